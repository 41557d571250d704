package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/normalize"
)

type mapChecker map[string]bool

func (m mapChecker) EntryExists(_ context.Context, accountID, key string) (bool, error) {
	return m[accountID+"|"+key], nil
}

func TestKeyFor(t *testing.T) {
	gmail := model.Account{ID: "a", ProviderIDs: true}
	plain := model.Account{ID: "b"}

	assert.Equal(t, "provider:9:1", KeyFor(gmail, "9:1", "<x@y>"))
	assert.Equal(t, "mid:x@y", KeyFor(gmail, "", "<x@y>"))
	assert.Equal(t, "mid:x@y", KeyFor(plain, "9:1", " <x@y> "))
	assert.Equal(t, "", KeyFor(plain, "9:1", ""))
}

func TestContentKeyAndFingerprint(t *testing.T) {
	raw := []byte("Subject: x\r\n\r\nbody")
	assert.Equal(t, ContentKey(raw), ContentKey(raw))
	assert.Len(t, ContentKey(raw), len("sha256:")+64)

}

func TestFingerprint(t *testing.T) {
	body := "hello"
	date := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	base := normalize.Message{
		MessageID:   "x@y",
		Subject:     "Hello",
		From:        "a@example.com",
		To:          []string{"b@example.com"},
		TextBody:    &body,
		Date:        &date,
		Attachments: []normalize.Attachment{{Filename: "a.txt", MIMEType: "text/plain", Content: []byte("A")}},
	}
	fp := Fingerprint(&base)
	assert.Len(t, fp, 64)

	same := base
	same.MessageID = "<x@y>"
	assert.Equal(t, fp, Fingerprint(&same))

	subject := base
	subject.Subject = "Secret"
	assert.NotEqual(t, fp, Fingerprint(&subject), "a reused Message-ID with other content is a different message")

	payload := base
	payload.Attachments = []normalize.Attachment{{Filename: "a.txt", MIMEType: "text/plain", Content: []byte("B")}}
	assert.NotEqual(t, fp, Fingerprint(&payload))

	noBody := base
	noBody.TextBody = nil
	empty := ""
	emptyBody := base
	emptyBody.TextBody = &empty
	assert.NotEqual(t, Fingerprint(&noBody), Fingerprint(&emptyBody))
}

func TestIndex_Exists(t *testing.T) {
	ix := NewIndex(mapChecker{"a|mid:x@y": true})
	acc := model.Account{ID: "a"}

	ok, err := ix.Exists(context.Background(), acc, "mid:x@y")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.Exists(context.Background(), acc, "mid:other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ix.Exists(context.Background(), acc, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
