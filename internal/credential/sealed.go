package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ajy121650/mailer-back/internal/model"
)

// sealedPrefix marks a credential reference that carries its own
// encrypted password.
const sealedPrefix = "sealed:"

// ErrInvalidRecord is returned when a sealed record cannot be opened.
var ErrInvalidRecord = errors.New("invalid sealed credential record")

// Seal encrypts plaintext with XChaCha20-Poly1305 under key and returns a
// record of the form "sealed:<base64(nonce|ciphertext)>".
func Seal(plaintext string, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a record produced by Seal.
func Decrypt(record string, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	encoded, ok := strings.CutPrefix(record, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrInvalidRecord, sealedPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: record too short", ErrInvalidRecord)
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return string(plaintext), nil
}

// KeyFromEnv reads a base64 encoded 32-byte key from the named variable.
func KeyFromEnv(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%s must hold %d bytes, got %d", name, chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// SealedProvider opens the sealed record stored as the account's credential
// reference.
type SealedProvider struct {
	key []byte
}

// NewSealedProvider returns a provider that decrypts records with key.
func NewSealedProvider(key []byte) *SealedProvider {
	return &SealedProvider{key: key}
}

// Credentials decrypts the account's sealed record.
func (p *SealedProvider) Credentials(_ context.Context, acc model.Account) (Credentials, error) {
	if acc.CredentialRef == "" {
		return Credentials{}, fmt.Errorf("account %s: %w", acc.ID, ErrNoCredential)
	}
	password, err := Decrypt(acc.CredentialRef, p.key)
	if err != nil {
		return Credentials{}, fmt.Errorf("account %s: %w", acc.ID, err)
	}
	return Credentials{Username: acc.Address, Password: password}, nil
}
