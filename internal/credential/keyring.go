package credential

import (
	"context"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/ajy121650/mailer-back/internal/model"
)

const serviceName = "mailer"

// KeyringProvider stores account passwords in the system keyring, keyed by
// the account's credential reference.
type KeyringProvider struct {
	ring keyring.Keyring
}

// OpenKeyring returns a KeyringProvider backed by the first available
// system keyring. fileDir is used by the encrypted file fallback backend.
func OpenKeyring(fileDir string) (*KeyringProvider, error) {
	if fileDir == "" {
		fileDir = "~/.config/mailer/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailer-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringProvider(ring), nil
}

// NewKeyringProvider wraps an already opened keyring.
func NewKeyringProvider(ring keyring.Keyring) *KeyringProvider {
	return &KeyringProvider{ring: ring}
}

// Credentials returns the account address and the password stored under
// the account's credential reference.
func (p *KeyringProvider) Credentials(_ context.Context, acc model.Account) (Credentials, error) {
	if acc.CredentialRef == "" {
		return Credentials{}, fmt.Errorf("account %s: %w", acc.ID, ErrNoCredential)
	}
	password, err := p.Get(acc.CredentialRef)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: acc.Address, Password: password}, nil
}

// Get retrieves a credential value by key from the keyring.
func (p *KeyringProvider) Get(key string) (string, error) {
	item, err := p.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key in the keyring.
func (p *KeyringProvider) Set(key string, value string) error {
	err := p.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailer IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key from the keyring.
func (p *KeyringProvider) Delete(key string) error {
	if err := p.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
