package model

import "time"

// Message is the canonical content of one ingested email. It is shared by
// every mailbox entry that refers to it and is immutable once created.
type Message struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id"`

	// MessageID is the RFC 5322 Message-ID header without angle brackets.
	MessageID string `json:"message_id"`

	// ProviderID is the server-assigned identifier, when the account's
	// server exposes one.
	ProviderID string `json:"provider_id,omitempty"`

	// Fingerprint identifies identical content delivered to several
	// accounts so they can share one Message row.
	Fingerprint string `json:"-"`

	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`

	// TextBody and HTMLBody are nil when the message has no such part.
	TextBody *string `json:"text_body,omitempty"`
	HTMLBody *string `json:"html_body,omitempty"`

	HasAttachment bool `json:"has_attachment"`

	// Date is the parsed Date header, nil when missing or unparsable.
	Date *time.Time `json:"date,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Attachments is populated by queries that load them explicitly.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// MailboxEntry is the per-account view of a Message.
type MailboxEntry struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	MessageRef string `json:"message_ref"`

	// DedupKey is the provider-aware identity of the message within the
	// account; unique per account.
	DedupKey string `json:"-"`

	Folder    Folder `json:"folder"`
	Read      bool   `json:"read"`
	Important bool   `json:"important"`
	Pinned    bool   `json:"pinned"`
	Spam      bool   `json:"spam"`

	// Classified is false when the entry was filed by the fail-open
	// default rather than a classifier label.
	Classified bool `json:"classified"`

	Summarized bool    `json:"summarized"`
	Summary    *string `json:"summary,omitempty"`

	ReceivedAt time.Time  `json:"received_at"`
	SyncedAt   time.Time  `json:"synced_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the entry has not been soft-deleted.
func (e MailboxEntry) Live() bool {
	return e.DeletedAt == nil
}

// Attachment references a stored binary payload owned by one Message.
type Attachment struct {
	ID          string    `json:"id"`
	MessageRef  string    `json:"message_ref"`
	Filename    string    `json:"filename"`
	MIMEType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
