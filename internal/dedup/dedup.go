// Package dedup decides the identity of a remote message within an account
// and whether it was already ingested.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/normalize"
)

// Key prefixes. A key is "<prefix>:<value>".
const (
	PrefixProvider = "provider"
	PrefixMessage  = "mid"
	PrefixContent  = "sha256"
)

// Checker reports whether a dedup key is already present for an account.
type Checker interface {
	EntryExists(ctx context.Context, accountID, dedupKey string) (bool, error)
}

// Index selects dedup keys and checks them against persisted entries.
type Index struct {
	checker Checker
}

// NewIndex returns an Index backed by checker.
func NewIndex(checker Checker) *Index {
	return &Index{checker: checker}
}

// KeyFor returns the dedup key of a message, or "" when neither id is
// usable and the key must come from ContentKey after fetching. Provider ids
// are used only for accounts flagged as exposing stable ones.
func KeyFor(acc model.Account, providerID, messageID string) string {
	if acc.ProviderIDs && strings.TrimSpace(providerID) != "" {
		return PrefixProvider + ":" + strings.TrimSpace(providerID)
	}
	if mid := strings.Trim(strings.TrimSpace(messageID), "<>"); mid != "" {
		return PrefixMessage + ":" + mid
	}
	return ""
}

// ContentKey returns the key of a message known only by its raw bytes.
func ContentKey(raw []byte) string {
	sum := sha256.Sum256(raw)
	return PrefixContent + ":" + hex.EncodeToString(sum[:])
}

// Fingerprint identifies message content across accounts so identical
// deliveries share one stored Message. Message-ID headers are not globally
// unique, so the digest covers the Message-ID together with the decoded
// headers, both bodies, and every attachment payload.
func Fingerprint(msg *normalize.Message) string {
	h := sha256.New()
	field := func(s string) {
		fmt.Fprintf(h, "%d:%s|", len(s), s)
	}
	optional := func(s *string) {
		if s == nil {
			h.Write([]byte("-|"))
			return
		}
		field(*s)
	}

	field(strings.Trim(strings.TrimSpace(msg.MessageID), "<>"))
	field(msg.Subject)
	field(msg.From)
	field(strings.Join(msg.To, ","))
	field(strings.Join(msg.Cc, ","))
	if msg.Date != nil {
		field(msg.Date.UTC().Format(time.RFC3339))
	} else {
		field("")
	}
	optional(msg.TextBody)
	optional(msg.HTMLBody)
	for _, a := range msg.Attachments {
		sum := sha256.Sum256(a.Content)
		field(a.Filename)
		field(a.MIMEType)
		field(hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Exists reports whether key was already ingested for the account. An
// empty key never exists.
func (ix *Index) Exists(ctx context.Context, acc model.Account, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	return ix.checker.EntryExists(ctx, acc.ID, key)
}
