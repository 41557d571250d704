package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimPrefix(s, "\n"), "\n", "\r\n"))
}

func TestParse_MultipartWithAttachment(t *testing.T) {
	raw := crlf(`
Message-ID: <abc@example.com>
Date: Mon, 02 Mar 2026 10:00:00 +0000
From: "Alice" <alice@example.com>
To: bob@example.com, "Carol" <carol@example.com>
Subject: Quarterly report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

plain body
--inner
Content-Type: text/html; charset=utf-8

<p>html body</p>
--inner--
--outer
Content-Type: text/plain
Content-Disposition: attachment; filename="notes.txt"

attached text
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQ=
--outer--
`)

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "abc@example.com", msg.MessageID)
	assert.Equal(t, "Quarterly report", msg.Subject)
	assert.Equal(t, "Alice <alice@example.com>", msg.From)
	assert.Equal(t, []string{"bob@example.com", "Carol <carol@example.com>"}, msg.To)
	assert.Empty(t, msg.Cc)

	require.NotNil(t, msg.Date)
	assert.True(t, msg.Date.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))

	require.NotNil(t, msg.TextBody)
	assert.Equal(t, "plain body", *msg.TextBody)
	require.NotNil(t, msg.HTMLBody)
	assert.Equal(t, "<p>html body</p>", *msg.HTMLBody)

	require.Len(t, msg.Attachments, 2)
	assert.True(t, msg.HasAttachment())
	assert.Equal(t, "notes.txt", msg.Attachments[0].Filename)
	assert.Equal(t, "text/plain", msg.Attachments[0].MIMEType)
	assert.Equal(t, "attached text", string(msg.Attachments[0].Content))
	assert.Equal(t, "report.pdf", msg.Attachments[1].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[1].MIMEType)
	assert.Equal(t, "%PDF-1.4", string(msg.Attachments[1].Content))
}

func TestParse_FirstTextPartWins(t *testing.T) {
	raw := crlf(`
From: a@example.com
Subject: two parts
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

first
--b
Content-Type: text/plain

second
--b--
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.TextBody)
	assert.Equal(t, "first", *msg.TextBody)
	assert.Nil(t, msg.HTMLBody)
}

func TestParse_SinglePartHTML(t *testing.T) {
	raw := crlf(`
From: a@example.com
Subject: html only
Content-Type: text/html; charset=utf-8

<b>hi</b>
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, msg.TextBody)
	require.NotNil(t, msg.HTMLBody)
	assert.Equal(t, "<b>hi</b>\r\n", *msg.HTMLBody)
	assert.False(t, msg.HasAttachment())
}

func TestParse_NoBodies(t *testing.T) {
	raw := crlf(`
From: a@example.com
Subject: image only
Content-Type: image/png
Content-Transfer-Encoding: base64

iVBORw0KGgo=
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, msg.TextBody)
	assert.Nil(t, msg.HTMLBody)
	assert.Empty(t, msg.Attachments)
}

func TestParse_EncodedWordHeaders(t *testing.T) {
	raw := crlf(`
From: =?UTF-8?B?7ZmN6ri464+Z?= <hong@example.com>
To: =?EUC-KR?B?waS788Dn?= <lee@example.com>
Subject: =?UTF-8?Q?caf=C3=A9?= menu
Content-Type: text/plain

body
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "café menu", msg.Subject)
	assert.Equal(t, "홍길동 <hong@example.com>", msg.From)
	require.Len(t, msg.To, 1)
	assert.True(t, strings.HasSuffix(msg.To[0], "<lee@example.com>"))
}

func TestParse_UnknownCharsetFallsBack(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"Subject: =?x-unknown?Q?hello=FFworld?=\r\n" +
		"Content-Type: text/plain; charset=x-unknown\r\n" +
		"\r\n" +
		"bad \xff byte\r\n")

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello�world", msg.Subject)
	require.NotNil(t, msg.TextBody)
	assert.Equal(t, "bad � byte\r\n", *msg.TextBody)
}

func TestParse_UnparsableDateIsNil(t *testing.T) {
	raw := crlf(`
From: a@example.com
Date: sometime last week
Subject: x
Content-Type: text/plain

body
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, msg.Date)
}

func TestParse_AttachmentWithoutFilenameUsesSubject(t *testing.T) {
	raw := crlf(`
From: a@example.com
Subject: Invoice #42: March!
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: application/octet-stream
Content-Disposition: attachment

data
--b--
`)

	msg, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "Invoice 42 March_attachment", msg.Attachments[0].Filename)
}

func TestParse_RejectsNonMessages(t *testing.T) {
	_, err := Parse(nil)
	assert.True(t, IsParseError(err))

	_, err = Parse([]byte("this is not a header line\r\n\r\nbody"))
	assert.True(t, IsParseError(err))
}

func TestFallbackFilename(t *testing.T) {
	assert.Equal(t, "unnamed_attachment", fallbackFilename(""))
	assert.Equal(t, "unnamed_attachment", fallbackFilename("!!!"))
	assert.Equal(t, "회의록 초안_attachment", fallbackFilename("회의록: 초안"))
}
