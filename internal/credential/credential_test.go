package credential

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajy121650/mailer-back/internal/model"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestSealAndDecrypt(t *testing.T) {
	record, err := Seal("app-password", testKey())
	require.NoError(t, err)
	assert.Contains(t, record, "sealed:")

	plain, err := Decrypt(record, testKey())
	require.NoError(t, err)
	assert.Equal(t, "app-password", plain)

	other, err := Seal("app-password", testKey())
	require.NoError(t, err)
	assert.NotEqual(t, record, other)
}

func TestDecrypt_RejectsTamperedRecords(t *testing.T) {
	record, err := Seal("secret", testKey())
	require.NoError(t, err)

	_, err = Decrypt(record, bytes.Repeat([]byte{8}, 32))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = Decrypt("plain-text", testKey())
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = Decrypt("sealed:AAAA", testKey())
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = Decrypt(record, []byte("short"))
	assert.Error(t, err)
}

func TestSealedProvider_Credentials(t *testing.T) {
	record, err := Seal("pw", testKey())
	require.NoError(t, err)

	p := NewSealedProvider(testKey())
	creds, err := p.Credentials(context.Background(), model.Account{
		ID: "acc-1", Address: "me@naver.com", CredentialRef: record,
	})
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "me@naver.com", Password: "pw"}, creds)

	_, err = p.Credentials(context.Background(), model.Account{ID: "acc-2"})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv("MAILER_TEST_KEY", base64.StdEncoding.EncodeToString(testKey()))
	key, err := KeyFromEnv("MAILER_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	t.Setenv("MAILER_TEST_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = KeyFromEnv("MAILER_TEST_KEY")
	assert.Error(t, err)

	_, err = KeyFromEnv("MAILER_TEST_KEY_UNSET")
	assert.Error(t, err)
}

func TestKeyringProvider(t *testing.T) {
	p := NewKeyringProvider(keyring.NewArrayKeyring(nil))
	acc := model.Account{ID: "acc-1", Address: "me@gmail.com", CredentialRef: "gmail-me"}

	_, err := p.Credentials(context.Background(), acc)
	assert.Error(t, err)

	require.NoError(t, p.Set("gmail-me", "pw"))
	creds, err := p.Credentials(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "me@gmail.com", creds.Username)
	assert.Equal(t, "pw", creds.Password)

	require.NoError(t, p.Delete("gmail-me"))
	_, err = p.Get("gmail-me")
	assert.Error(t, err)
}
