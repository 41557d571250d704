package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ajy121650/mailer-back/internal/model"
)

// EntryExists reports whether the account already holds an entry with the
// given dedup key. Soft-deleted entries count as existing.
func (s *SQLStore) EntryExists(ctx context.Context, accountID, dedupKey string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.q("SELECT COUNT(*) FROM mailbox_entries WHERE account_id = ? AND dedup_key = ?"),
		accountID, dedupKey,
	)
	if err != nil {
		return false, fmt.Errorf("checking entry %s for account %s: %w", dedupKey, accountID, err)
	}
	return count > 0, nil
}

// IngestMessage creates the Message, its Attachment rows, and the account's
// MailboxEntry in one transaction. Inside the transaction it re-checks the
// dedup key and the Message-ID header for the account and returns
// ErrConflict when either is already present; a unique constraint
// violation on the entry is reported the same way. Content with a known
// fingerprint is shared rather than stored twice; a concurrent insert of
// the same fingerprint resolves to sharing, never to a conflict.
func (s *SQLStore) IngestMessage(ctx context.Context, in Ingest) (*IngestResult, error) {
	entry := in.Entry
	msg := in.Message

	if entry.AccountID == "" || entry.DedupKey == "" {
		return nil, fmt.Errorf("ingest requires an account and a dedup key")
	}
	if msg.Fingerprint == "" {
		return nil, fmt.Errorf("ingest requires a message fingerprint")
	}
	if !entry.Folder.Valid() {
		return nil, fmt.Errorf("ingest with invalid folder %q", entry.Folder)
	}

	result := &IngestResult{}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.entryExistsTx(ctx, tx, entry.AccountID, entry.DedupKey, msg.MessageID)
		if err != nil {
			return err
		}
		if exists {
			return ErrConflict
		}

		msgID, inserted, err := s.insertMessageTx(ctx, tx, msg, in.Attachments)
		if err != nil {
			return err
		}
		result.MessageID = msgID
		result.Shared = !inserted

		id, err := s.insertEntryTx(ctx, tx, entry, result.MessageID)
		if err != nil {
			return err
		}
		result.EntryID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || s.dialect.isUniqueErr(err) {
			return nil, fmt.Errorf("ingesting %s for account %s: %w",
				entry.DedupKey, entry.AccountID, ErrConflict)
		}
		return nil, fmt.Errorf("ingesting %s for account %s: %w", entry.DedupKey, entry.AccountID, err)
	}

	return result, nil
}

func (s *SQLStore) entryExistsTx(
	ctx context.Context,
	tx *sqlx.Tx,
	accountID, dedupKey, messageID string,
) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		s.q("SELECT COUNT(*) FROM mailbox_entries WHERE account_id = ? AND dedup_key = ?"),
		accountID, dedupKey,
	)
	if err != nil {
		return false, fmt.Errorf("re-checking dedup key: %w", err)
	}
	if count > 0 || messageID == "" {
		return count > 0, nil
	}

	err = tx.GetContext(ctx, &count, s.q(`
		SELECT COUNT(*) FROM mailbox_entries e
		JOIN messages m ON m.id = e.message_ref
		WHERE e.account_id = ? AND m.message_id = ?`),
		accountID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("re-checking message-id: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) insertMessageTx(
	ctx context.Context,
	tx *sqlx.Tx,
	msg model.Message,
	attachments []model.Attachment,
) (string, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	to, cc, bcc, err := marshalRecipients(msg)
	if err != nil {
		return "", false, err
	}

	var sentAt *time.Time
	if msg.Date != nil {
		d := msg.Date.UTC()
		sentAt = &d
	}

	res, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (
			id, message_id, provider_id, fingerprint,
			subject, from_addr, to_addrs, cc_addrs, bcc_addrs,
			text_body, html_body, has_attachment, sent_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`),
		msg.ID, msg.MessageID, msg.ProviderID, msg.Fingerprint,
		msg.Subject, msg.From, to, cc, bcc,
		msg.TextBody, msg.HTMLBody, boolToInt(msg.HasAttachment || len(attachments) > 0),
		sentAt, now,
	)
	if err != nil {
		return "", false, fmt.Errorf("inserting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("inserting message: %w", err)
	}
	if n == 0 {
		var existingID string
		err := tx.GetContext(ctx, &existingID,
			s.q("SELECT id FROM messages WHERE fingerprint = ?"), msg.Fingerprint)
		if err != nil {
			return "", false, fmt.Errorf("looking up fingerprint: %w", err)
		}
		return existingID, false, nil
	}

	for _, a := range attachments {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.MIMEType == "" {
			a.MIMEType = "application/octet-stream"
		}
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO attachments (
				id, message_ref, filename, mime_type, size, storage_path, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			a.ID, msg.ID, a.Filename, a.MIMEType, a.Size, a.StoragePath, now,
		)
		if err != nil {
			return "", false, fmt.Errorf("inserting attachment %s: %w", a.Filename, err)
		}
	}

	return msg.ID, true, nil
}

func (s *SQLStore) insertEntryTx(
	ctx context.Context,
	tx *sqlx.Tx,
	entry model.MailboxEntry,
	messageRef string,
) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = now
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = now
	}

	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO mailbox_entries (
			id, account_id, message_ref, dedup_key, folder,
			read, important, pinned, spam, classified,
			summarized, summary, received_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.AccountID, messageRef, entry.DedupKey, string(entry.Folder),
		boolToInt(entry.Read), boolToInt(entry.Important), boolToInt(entry.Pinned),
		boolToInt(entry.Spam), boolToInt(entry.Classified),
		boolToInt(entry.Summarized), entry.Summary,
		entry.ReceivedAt.UTC(), entry.SyncedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting mailbox entry: %w", err)
	}
	return entry.ID, nil
}

func marshalRecipients(msg model.Message) (to, cc, bcc string, err error) {
	lists := [][]string{msg.To, msg.Cc, msg.Bcc}
	out := make([]string, len(lists))
	for i, l := range lists {
		b, err := json.Marshal(nonNil(l))
		if err != nil {
			return "", "", "", fmt.Errorf("marshaling recipients: %w", err)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], nil
}
