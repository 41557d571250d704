package normalize

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"unicode"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// maxDepth bounds multipart nesting.
const maxDepth = 32

// Parse normalizes a raw message. It fails only when raw has no readable
// header block; every other defect (unknown charsets, bad encodings, an
// unparsable date, a truncated body) degrades to a best-effort value.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Reason: "empty message"}
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, &ParseError{Reason: "reading header", Err: err}
	}
	if entity == nil || entity.Header.Len() == 0 {
		return nil, &ParseError{Reason: "no header fields"}
	}

	h := entity.Header
	msg := &Message{
		MessageID: normalizeMessageID(h.Get("Message-Id")),
		Subject:   decodeHeader(h.Get("Subject")),
		From:      strings.Join(decodeAddressList(h.Get("From")), ", "),
		To:        decodeAddressList(h.Get("To")),
		Cc:        decodeAddressList(h.Get("Cc")),
		Bcc:       decodeAddressList(h.Get("Bcc")),
	}
	if msg.From == "" {
		msg.From = decodeHeader(h.Get("From"))
	}

	if d := strings.TrimSpace(h.Get("Date")); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			msg.Date = &t
		}
	}

	w := &walker{msg: msg}
	w.walk(entity, 0)

	return msg, nil
}

// tolerable reports whether a go-message error still yields a usable entity
// whose body is passed through undecoded.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

type walker struct {
	msg *Message
}

func (w *walker) walk(e *message.Entity, depth int) {
	if depth > maxDepth {
		return
	}

	mediaType, params, _ := e.Header.ContentType()
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	disp, dispParams, _ := e.Header.ContentDisposition()

	if strings.EqualFold(disp, "attachment") {
		w.addAttachment(e, mediaType, params, dispParams)
		return
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !tolerable(err) {
				return
			}
			if part == nil {
				return
			}
			w.walk(part, depth+1)
		}
	}

	switch mediaType {
	case "text/plain":
		if w.msg.TextBody == nil {
			body := readBody(e.Body)
			w.msg.TextBody = &body
		}
	case "text/html":
		if w.msg.HTMLBody == nil {
			body := readBody(e.Body)
			w.msg.HTMLBody = &body
		}
	}
}

func (w *walker) addAttachment(
	e *message.Entity,
	mediaType string,
	params, dispParams map[string]string,
) {
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	filename = decodeHeader(filename)
	if filename == "" {
		filename = fallbackFilename(w.msg.Subject)
	}

	// Partial content from a broken transfer encoding is still kept.
	content, _ := io.ReadAll(e.Body)

	w.msg.Attachments = append(w.msg.Attachments, Attachment{
		Filename: filename,
		MIMEType: mediaType,
		Content:  content,
	})
}

// readBody reads a text part, keeping whatever was decoded before an error.
func readBody(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return bytesToValidUTF8(b)
}

// fallbackFilename names an attachment that carries no filename after the
// message subject, keeping only letters, digits, spaces, and underscores.
func fallbackFilename(subject string) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			return r
		}
		return -1
	}, subject)
	safe = strings.TrimRight(safe, " ")
	if safe == "" {
		return "unnamed_attachment"
	}
	return safe + "_attachment"
}
