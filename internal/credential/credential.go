// Package credential stores the classifier API key.
package credential

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
)

// Store persists a single raw API key.
type Store struct {
	kv     db.KeyValue
	logger *slog.Logger
}

// NewStore creates a credential store over kv.
func NewStore(kv db.KeyValue, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With(slog.String("component", "credential_store")),
	}
}

// Set persists key as given. Empty or whitespace-only keys are rejected.
func (s *Store) Set(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.NewInvalidCredential("API key must not be empty")
	}
	return s.kv.Set(ctx, db.KeyAPIKey, key)
}

// Get returns the stored key. Read failures are logged and reported as absent.
func (s *Store) Get(ctx context.Context) (string, bool) {
	key, ok, err := s.kv.Get(ctx, db.KeyAPIKey)
	if err != nil {
		s.logger.Error("reading API key", slog.String("error", err.Error()))
		return "", false
	}
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Has reports whether a usable key is stored.
func (s *Store) Has(ctx context.Context) bool {
	_, ok := s.Get(ctx)
	return ok
}

// Clear removes the stored key.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, db.KeyAPIKey)
}

// Masked renders key for display, keeping the first and last four characters.
func Masked(key string) string {
	const keep = 4
	r := []rune(key)
	if len(r) <= keep*2 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:keep]) + strings.Repeat("*", len(r)-keep*2) + string(r[len(r)-keep:])
}
