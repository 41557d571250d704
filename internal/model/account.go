package model

import "time"

// TLSMode selects how the IMAP connection is secured.
type TLSMode string

const (
	TLSImplicit TLSMode = "tls"
	TLSStartTLS TLSMode = "starttls"
)

// Account identifies one remote mailbox owned by a user.
type Account struct {
	// ID is the internal unique identifier for this account.
	ID string `json:"id"`

	// UserID is the owner of the account.
	UserID string `json:"user_id"`

	// Address is the mailbox address, also used as the IMAP login name.
	Address string `json:"address"`

	// Domain is the provider key used to resolve IMAP server settings
	// (e.g., "gmail", "naver").
	Domain string `json:"domain"`

	// Host and Port override the server resolved from Domain when set.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// TLS overrides the resolved TLS mode when set.
	TLS TLSMode `json:"tls,omitempty"`

	// CredentialRef is an opaque reference handed to the credential
	// provider (a keyring key or a sealed record).
	CredentialRef string `json:"-"`

	// LastCheckpoint is the lower bound watermark of the next incremental
	// sync window. Nil means the account has never completed a sync.
	LastCheckpoint *time.Time `json:"last_checkpoint,omitempty"`

	// Valid is false once a caller has flagged the account's credentials
	// as unusable.
	Valid bool `json:"valid"`

	// ProviderIDs marks servers whose provider-level message identifiers
	// are stable enough to deduplicate on.
	ProviderIDs bool `json:"provider_ids"`

	// Job, Usage, and Interests form the classification profile.
	Job       string   `json:"job"`
	Usage     string   `json:"usage"`
	Interests []string `json:"interests"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
