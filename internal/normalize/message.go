// Package normalize turns raw RFC 5322 bytes into a decoded, storage-ready
// record: headers decoded to UTF-8, the first text and html bodies, and
// every attachment part with its payload.
package normalize

import (
	"errors"
	"fmt"
	"time"
)

// Message is the normalized form of one fetched email.
type Message struct {
	// MessageID is the Message-ID header without angle brackets.
	MessageID string

	Subject string
	From    string
	To      []string
	Cc      []string
	Bcc     []string

	// TextBody and HTMLBody are nil when the message has no such part.
	TextBody *string
	HTMLBody *string

	Attachments []Attachment

	// Date is nil when the Date header is missing or unparsable.
	Date *time.Time
}

// HasAttachment reports whether any attachment part was found.
func (m *Message) HasAttachment() bool {
	return len(m.Attachments) > 0
}

// Attachment describes one attachment-disposition part.
type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// ParseError indicates the raw bytes could not be read as a message.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err (or any error in its chain) is a
// ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
