package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ajy121650/mailer-back/internal/model"
)

const detailColumns = `
	e.id, e.account_id, e.message_ref, e.dedup_key, e.folder,
	e.read, e.important, e.pinned, e.spam, e.classified,
	e.summarized, e.summary, e.received_at, e.synced_at, e.deleted_at,
	m.id, m.message_id, m.provider_id, m.fingerprint,
	m.subject, m.from_addr, m.to_addrs, m.cc_addrs, m.bcc_addrs,
	m.text_body, m.html_body, m.has_attachment, m.sent_at, m.created_at`

const detailFrom = ` FROM mailbox_entries e JOIN messages m ON m.id = e.message_ref`

// GetEntry retrieves a single entry and its message by entry ID.
func (s *SQLStore) GetEntry(ctx context.Context, id string) (*EntryDetail, error) {
	row := s.db.QueryRowxContext(ctx,
		s.q("SELECT "+detailColumns+detailFrom+" WHERE e.id = ?"), id)

	d, err := scanDetail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry %s: %w", id, err)
	}
	return &d, nil
}

// ListEntries retrieves entries matching the filter, newest first.
func (s *SQLStore) ListEntries(ctx context.Context, filter EntryFilter) ([]EntryDetail, error) {
	var conditions []string
	var args []interface{}

	if filter.AccountID != "" {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Folder != nil {
		conditions = append(conditions, "e.folder = ?")
		args = append(args, string(*filter.Folder))
	}
	if filter.Read != nil {
		conditions = append(conditions, "e.read = ?")
		args = append(args, boolToInt(*filter.Read))
	}
	if filter.Pinned != nil {
		conditions = append(conditions, "e.pinned = ?")
		args = append(args, boolToInt(*filter.Pinned))
	}
	if filter.Deleted {
		conditions = append(conditions, "e.deleted_at IS NOT NULL")
	} else {
		conditions = append(conditions, "e.deleted_at IS NULL")
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "(m.subject LIKE ? OR m.from_addr LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT " + detailColumns + detailFrom +
		" WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY e.pinned DESC, e.received_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return s.queryDetails(ctx, s.db, query, args...)
}

// SetEntryFlags updates the read, important, and pinned flags that are set
// in flags.
func (s *SQLStore) SetEntryFlags(ctx context.Context, id string, flags EntryFlags) error {
	var sets []string
	var args []interface{}

	if flags.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, boolToInt(*flags.Read))
	}
	if flags.Important != nil {
		sets = append(sets, "important = ?")
		args = append(args, boolToInt(*flags.Important))
	}
	if flags.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*flags.Pinned))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	return s.updateEntry(ctx, id, "setting flags on",
		"UPDATE mailbox_entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
}

// MoveEntry moves an entry to folder, keeping the spam flag in step with
// the spam folder.
func (s *SQLStore) MoveEntry(ctx context.Context, id string, folder model.Folder) error {
	if !folder.Valid() {
		return fmt.Errorf("moving entry %s: unknown folder %q", id, folder)
	}
	return s.updateEntry(ctx, id, "moving",
		"UPDATE mailbox_entries SET folder = ?, spam = ? WHERE id = ?",
		string(folder), boolToInt(folder.IsSpam()), id)
}

// SoftDeleteEntry marks an entry deleted without removing any rows.
func (s *SQLStore) SoftDeleteEntry(ctx context.Context, id string) error {
	return s.updateEntry(ctx, id, "soft-deleting",
		"UPDATE mailbox_entries SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id)
}

// RestoreEntry clears the soft-delete mark of an entry.
func (s *SQLStore) RestoreEntry(ctx context.Context, id string) error {
	return s.updateEntry(ctx, id, "restoring",
		"UPDATE mailbox_entries SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL", id)
}

// SaveSummary caches a generated summary on the entry.
func (s *SQLStore) SaveSummary(ctx context.Context, id, summary string) error {
	return s.updateEntry(ctx, id, "saving summary of",
		"UPDATE mailbox_entries SET summarized = 1, summary = ? WHERE id = ?", summary, id)
}

// DeleteEntry removes an entry. When it was the last entry referring to its
// message, the message and its attachment rows are removed too and the
// attachments' storage paths are returned so the payloads can be deleted.
func (s *SQLStore) DeleteEntry(ctx context.Context, id string) ([]string, error) {
	var paths []string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var messageRef string
		err := tx.GetContext(ctx, &messageRef,
			s.q("SELECT message_ref FROM mailbox_entries WHERE id = ?"), id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.q("DELETE FROM mailbox_entries WHERE id = ?"), id); err != nil {
			return err
		}

		var remaining int
		if err := tx.GetContext(ctx, &remaining,
			s.q("SELECT COUNT(*) FROM mailbox_entries WHERE message_ref = ?"), messageRef); err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		if err := tx.SelectContext(ctx, &paths,
			s.q("SELECT storage_path FROM attachments WHERE message_ref = ?"), messageRef); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			s.q("DELETE FROM attachments WHERE message_ref = ?"), messageRef); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q("DELETE FROM messages WHERE id = ?"), messageRef)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deleting entry %s: %w", id, err)
	}
	return paths, nil
}

// UnclassifiedEntries returns live inbox entries of the account that were
// filed by the fail-open default, oldest first.
func (s *SQLStore) UnclassifiedEntries(
	ctx context.Context,
	accountID string,
	limit int,
) ([]EntryDetail, error) {
	query := "SELECT " + detailColumns + detailFrom + `
		WHERE e.account_id = ? AND e.classified = 0
		AND e.folder = 'inbox' AND e.deleted_at IS NULL
		ORDER BY e.received_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryDetails(ctx, s.db, query, accountID)
}

// ApplyClassification files a fail-open entry according to a classifier
// label. It only touches entries still unclassified and live in the inbox
// and reports whether the update happened.
func (s *SQLStore) ApplyClassification(
	ctx context.Context,
	entryID string,
	folder model.Folder,
	spam bool,
) (bool, error) {
	if !folder.Valid() {
		return false, fmt.Errorf("classifying entry %s: unknown folder %q", entryID, folder)
	}
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE mailbox_entries SET folder = ?, spam = ?, classified = 1
		WHERE id = ? AND classified = 0 AND folder = 'inbox' AND deleted_at IS NULL`),
		string(folder), boolToInt(spam), entryID,
	)
	if err != nil {
		return false, fmt.Errorf("classifying entry %s: %w", entryID, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetMessage retrieves a message with its attachments.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx, s.q(`
		SELECT id, message_id, provider_id, fingerprint,
			subject, from_addr, to_addrs, cc_addrs, bcc_addrs,
			text_body, html_body, has_attachment, sent_at, created_at
		FROM messages WHERE id = ?`), id)

	var msg model.Message
	if err := scanMessageInto(row, &msg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}

	rows, err := s.db.QueryxContext(ctx, s.q(`
		SELECT id, message_ref, filename, mime_type, size, storage_path, created_at
		FROM attachments WHERE message_ref = ? ORDER BY created_at, filename`), id)
	if err != nil {
		return nil, fmt.Errorf("querying attachments of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(
			&a.ID, &a.MessageRef, &a.Filename, &a.MIMEType,
			&a.Size, &a.StoragePath, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &msg, nil
}

// updateEntry executes an UPDATE against a single entry and maps a zero
// row count to ErrNotFound.
func (s *SQLStore) updateEntry(
	ctx context.Context,
	id, action, query string,
	args ...interface{},
) error {
	result, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("%s entry %s: %w", action, id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s entry %s: %w", action, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) queryDetails(
	ctx context.Context,
	db sqlx.QueryerContext,
	query string,
	args ...interface{},
) ([]EntryDetail, error) {
	rows, err := db.QueryxContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var details []EntryDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDetail scans an entry joined with its message.
func scanDetail(row scanner) (EntryDetail, error) {
	var (
		d                                         EntryDetail
		folder                                    string
		read, important, pinned, spam, classified int
		summarized, hasAttachment                 int
		to, cc, bcc                               string
		sentAt                                    *time.Time
	)

	e := &d.Entry
	m := &d.Message
	err := row.Scan(
		&e.ID, &e.AccountID, &e.MessageRef, &e.DedupKey, &folder,
		&read, &important, &pinned, &spam, &classified,
		&summarized, &e.Summary, &e.ReceivedAt, &e.SyncedAt, &e.DeletedAt,
		&m.ID, &m.MessageID, &m.ProviderID, &m.Fingerprint,
		&m.Subject, &m.From, &to, &cc, &bcc,
		&m.TextBody, &m.HTMLBody, &hasAttachment, &sentAt, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntryDetail{}, err
		}
		return EntryDetail{}, fmt.Errorf("scanning entry row: %w", err)
	}

	e.Folder = model.Folder(folder)
	e.Read = read != 0
	e.Important = important != 0
	e.Pinned = pinned != 0
	e.Spam = spam != 0
	e.Classified = classified != 0
	e.Summarized = summarized != 0
	m.HasAttachment = hasAttachment != 0
	m.Date = sentAt

	if err := unmarshalRecipients(m, to, cc, bcc); err != nil {
		return EntryDetail{}, err
	}
	return d, nil
}

func scanMessageInto(row scanner, m *model.Message) error {
	var (
		to, cc, bcc   string
		hasAttachment int
		sentAt        *time.Time
	)
	err := row.Scan(
		&m.ID, &m.MessageID, &m.ProviderID, &m.Fingerprint,
		&m.Subject, &m.From, &to, &cc, &bcc,
		&m.TextBody, &m.HTMLBody, &hasAttachment, &sentAt, &m.CreatedAt,
	)
	if err != nil {
		return err
	}
	m.HasAttachment = hasAttachment != 0
	m.Date = sentAt
	return unmarshalRecipients(m, to, cc, bcc)
}

func unmarshalRecipients(m *model.Message, to, cc, bcc string) error {
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{to, &m.To}, {cc, &m.Cc}, {bcc, &m.Bcc}} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return fmt.Errorf("unmarshaling recipients: %w", err)
		}
	}
	return nil
}
