package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ajy121650/mailer-back/internal/model"
)

const accountColumns = `id, user_id, address, domain, host, port, tls, credential_ref,
	last_checkpoint, valid, provider_ids, job, usage, interests, created_at, updated_at`

// UpsertAccount inserts an account or updates its settings. The checkpoint
// is never written here; use AdvanceCheckpoint. If the account has no ID, a
// new UUID is generated.
func (s *SQLStore) UpsertAccount(ctx context.Context, acc model.Account) error {
	if acc.Address == "" {
		return fmt.Errorf("account address must not be empty")
	}
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}

	interests, err := json.Marshal(nonNil(acc.Interests))
	if err != nil {
		return fmt.Errorf("marshaling interests for account %s: %w", acc.ID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO accounts (
			id, user_id, address, domain, host, port, tls, credential_ref,
			valid, provider_ids, job, usage, interests, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			address = excluded.address,
			domain = excluded.domain,
			host = excluded.host,
			port = excluded.port,
			tls = excluded.tls,
			credential_ref = excluded.credential_ref,
			valid = excluded.valid,
			provider_ids = excluded.provider_ids,
			job = excluded.job,
			usage = excluded.usage,
			interests = excluded.interests,
			updated_at = excluded.updated_at`),
		acc.ID, acc.UserID, acc.Address, acc.Domain, acc.Host, acc.Port,
		string(acc.TLS), acc.CredentialRef,
		boolToInt(acc.Valid), boolToInt(acc.ProviderIDs),
		acc.Job, acc.Usage, string(interests), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", acc.ID, err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowxContext(ctx,
		s.q("SELECT "+accountColumns+" FROM accounts WHERE id = ?"), id)

	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &acc, nil
}

// ListAccounts returns every account ordered by address.
func (s *SQLStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// AdvanceCheckpoint moves the account's checkpoint forward to at. Moving it
// backwards fails with ErrStaleCheckpoint; an equal value is a no-op.
func (s *SQLStore) AdvanceCheckpoint(ctx context.Context, accountID string, at time.Time) error {
	at = at.UTC()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current *time.Time
		err := tx.QueryRowxContext(ctx,
			s.q("SELECT last_checkpoint FROM accounts WHERE id = ?"), accountID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("advancing checkpoint of %s: %w", accountID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading checkpoint of %s: %w", accountID, err)
		}

		if current != nil {
			if at.Before(*current) {
				return fmt.Errorf("advancing checkpoint of %s to %s: %w",
					accountID, at.Format(time.RFC3339), ErrStaleCheckpoint)
			}
			if at.Equal(*current) {
				return nil
			}
		}

		_, err = tx.ExecContext(ctx,
			s.q("UPDATE accounts SET last_checkpoint = ?, updated_at = ? WHERE id = ?"),
			at, time.Now().UTC(), accountID,
		)
		if err != nil {
			return fmt.Errorf("updating checkpoint of %s: %w", accountID, err)
		}
		return nil
	})
}

// SetAccountValidity records whether the account's credentials are usable.
func (s *SQLStore) SetAccountValidity(ctx context.Context, accountID string, valid bool) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE accounts SET valid = ?, updated_at = ? WHERE id = ?"),
		boolToInt(valid), time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("setting validity of account %s: %w", accountID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("setting validity of account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// scanAccount scans an account row from either a sqlx.Row or sqlx.Rows.
func scanAccount(row scanner) (model.Account, error) {
	var (
		acc         model.Account
		tls         string
		valid       int
		providerIDs int
		interests   string
		checkpoint  *time.Time
	)

	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.Address, &acc.Domain, &acc.Host, &acc.Port,
		&tls, &acc.CredentialRef, &checkpoint, &valid, &providerIDs,
		&acc.Job, &acc.Usage, &interests, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, err
		}
		return model.Account{}, fmt.Errorf("scanning account row: %w", err)
	}

	acc.TLS = model.TLSMode(tls)
	acc.Valid = valid != 0
	acc.ProviderIDs = providerIDs != 0
	acc.LastCheckpoint = checkpoint

	if interests != "" {
		if err := json.Unmarshal([]byte(interests), &acc.Interests); err != nil {
			return model.Account{}, fmt.Errorf("unmarshaling interests: %w", err)
		}
	}

	return acc, nil
}

// nonNil returns s, or an empty slice when s is nil, so it encodes as [].
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
