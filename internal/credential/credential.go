// Package credential resolves the plaintext login of an account at
// session-open time. Secrets are never cached on model types.
package credential

import (
	"context"
	"errors"

	"github.com/ajy121650/mailer-back/internal/model"
)

// ErrNoCredential is returned when an account has no credential reference.
var ErrNoCredential = errors.New("account has no credential reference")

// Credentials is a plaintext IMAP login.
type Credentials struct {
	Username string
	Password string
}

// Provider returns the credentials of an account.
type Provider interface {
	Credentials(ctx context.Context, acc model.Account) (Credentials, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, acc model.Account) (Credentials, error)

// Credentials calls f(ctx, acc).
func (f ProviderFunc) Credentials(ctx context.Context, acc model.Account) (Credentials, error) {
	return f(ctx, acc)
}
