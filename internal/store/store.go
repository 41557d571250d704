package store

import (
	"context"
	"errors"
	"time"

	"github.com/ajy121650/mailer-back/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an ingest would create a second mailbox
	// entry for the same account and message. Concurrent runs hit it by
	// design; callers skip the message.
	ErrConflict = errors.New("mailbox entry already exists")

	// ErrStaleCheckpoint is returned when a checkpoint update would move an
	// account's watermark backwards.
	ErrStaleCheckpoint = errors.New("checkpoint is older than the stored one")
)

// EntryFilter controls filtering and pagination for mailbox entry queries.
type EntryFilter struct {
	AccountID string
	Folder    *model.Folder
	Read      *bool
	Pinned    *bool
	Deleted   bool    // true lists only soft-deleted entries
	Query     *string // search subject + sender
	Limit     int
	Offset    int
}

// EntryFlags holds the user-settable flags of an entry; nil leaves a flag
// unchanged.
type EntryFlags struct {
	Read      *bool
	Important *bool
	Pinned    *bool
}

// Ingest is everything created by one message's ingestion transaction.
type Ingest struct {
	Message     model.Message
	Entry       model.MailboxEntry
	Attachments []model.Attachment
}

// IngestResult reports the rows an ingest produced.
type IngestResult struct {
	MessageID string
	EntryID   string

	// Shared is true when the content already existed for another account.
	// The new entry points at the existing Message and the Attachment rows
	// of the request were not inserted, so the caller owns their payloads.
	Shared bool
}

// EntryDetail pairs an entry with the message it refers to.
type EntryDetail struct {
	Entry   model.MailboxEntry
	Message model.Message
}

// Store defines the persistence interface for accounts, messages, mailbox
// entries, and attachments.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, acc model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	AdvanceCheckpoint(ctx context.Context, accountID string, at time.Time) error
	SetAccountValidity(ctx context.Context, accountID string, valid bool) error

	// === Ingestion ===

	EntryExists(ctx context.Context, accountID, dedupKey string) (bool, error)
	IngestMessage(ctx context.Context, in Ingest) (*IngestResult, error)

	// === Entries ===

	GetEntry(ctx context.Context, id string) (*EntryDetail, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]EntryDetail, error)
	SetEntryFlags(ctx context.Context, id string, flags EntryFlags) error
	MoveEntry(ctx context.Context, id string, folder model.Folder) error
	SoftDeleteEntry(ctx context.Context, id string) error
	RestoreEntry(ctx context.Context, id string) error
	DeleteEntry(ctx context.Context, id string) ([]string, error)
	SaveSummary(ctx context.Context, id, summary string) error

	// === Classification ===

	UnclassifiedEntries(ctx context.Context, accountID string, limit int) ([]EntryDetail, error)
	ApplyClassification(ctx context.Context, entryID string, folder model.Folder, spam bool) (bool, error)

	// === Messages ===

	GetMessage(ctx context.Context, id string) (*model.Message, error)

	Close() error
}
