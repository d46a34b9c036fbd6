package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/reelnote/internal/errors"
)

// Fixed keys. Values are JSON text except the credential, which is raw.
const (
	KeyReels      = "@saved_reels"
	KeyCategories = "@custom_categories"
	KeySettings   = "@app_settings"
	KeyAPIKey     = "@reel_classifier_gemini_api_key"
)

// KeyValue is the persistence contract the registry, reel store, settings and
// credential store are written against.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// KV is the SQLite-backed KeyValue.
type KV struct {
	db *sql.DB
}

// NewKV wraps an initialized database.
func NewKV(database *sql.DB) *KV {
	return &KV{db: database}
}

// Get returns the value stored under key. ok is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewPersistenceFailure("read", key, err)
	}
	return value, true, nil
}

// Set writes value under key, replacing any previous value.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := kv.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return errors.NewPersistenceFailure("write", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if _, err := kv.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.NewPersistenceFailure("delete", key, err)
	}
	return nil
}
