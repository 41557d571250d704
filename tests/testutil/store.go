package testutil

import (
	"context"
	"testing"

	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount upserts acc into s and returns it as stored.
func SeedAccount(t *testing.T, s store.Store, acc model.Account) *model.Account {
	t.Helper()

	if acc.Address == "" {
		acc.Address = acc.ID + "@example.com"
	}
	if err := s.UpsertAccount(context.Background(), acc); err != nil {
		t.Fatalf("seeding account %s: %v", acc.ID, err)
	}

	got, err := s.GetAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("reading seeded account %s: %v", acc.ID, err)
	}
	return got
}
