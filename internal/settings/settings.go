// Package settings persists user preferences.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
)

// Settings are the user's preferences.
type Settings struct {
	// AutoSave routes newly shared content through automatic classification.
	// When false, shared content goes straight to manual category entry.
	AutoSave bool `json:"autoSave"`
}

// Default returns the settings used when nothing is stored.
func Default() Settings {
	return Settings{AutoSave: true}
}

// Load reads settings from kv. Missing, unreadable or corrupt values fall
// back to Default.
func Load(ctx context.Context, kv db.KeyValue, logger *slog.Logger) Settings {
	s := Default()

	raw, ok, err := kv.Get(ctx, db.KeySettings)
	if err != nil {
		logger.Warn("reading settings", slog.String("error", err.Error()))
		return s
	}
	if !ok || raw == "" {
		return s
	}

	// Decode onto the defaults so absent fields keep their default value
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		logger.Warn("ignoring corrupt settings", slog.String("error", err.Error()))
		return Default()
	}
	return s
}

// Save writes s to kv.
func Save(ctx context.Context, kv db.KeyValue, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.NewInternal(err)
	}
	return kv.Set(ctx, db.KeySettings, string(data))
}
