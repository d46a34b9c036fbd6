package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// ClassifierBaseURL is the generative-language API root. Model endpoints are
	// built as {base}/models/{model}:generateContent.
	ClassifierBaseURL string `json:"classifier_base_url,omitempty"`

	// PrimaryModel is tried first for every classification call.
	PrimaryModel string `json:"primary_model,omitempty"`

	// SecondaryModel is tried once when the primary model fails.
	SecondaryModel string `json:"secondary_model,omitempty"`

	// PrimaryTimeoutSeconds bounds a single attempt against the primary model.
	PrimaryTimeoutSeconds int `json:"primary_timeout_seconds,omitempty"`

	// SecondaryTimeoutSeconds bounds the fallback attempt.
	SecondaryTimeoutSeconds int `json:"secondary_timeout_seconds,omitempty"`

	// CacheSize is the number of single-category answers memoized per process.
	// Negative disables the cache; 0 means use the default.
	CacheSize int `json:"cache_size,omitempty"`

	// DateLayout and TimeLayout are Go reference layouts used to render the
	// dateAdded/timeAdded display strings when a reel is saved.
	DateLayout string `json:"date_layout,omitempty"`
	TimeLayout string `json:"time_layout,omitempty"`

	// TimeZone is an IANA zone name for display strings. Empty means local time.
	TimeZone string `json:"time_zone,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ClassifierBaseURL:       "https://generativelanguage.googleapis.com/v1beta",
		PrimaryModel:            "gemini-2.5-pro",
		SecondaryModel:          "gemini-2.0-flash",
		PrimaryTimeoutSeconds:   10,
		SecondaryTimeoutSeconds: 30,
		CacheSize:               128,
		DateLayout:              "1/2/2006",
		TimeLayout:              "3:04:05 PM",
		LogLevel:                "warn",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.reelnote.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// ApplyEnv overlays REELNOTE_* environment variables onto cfg. A .env file is
// read first when present; variables already set in the process win over it.
func ApplyEnv(cfg *Config, envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)

	overlay := &Config{
		ClassifierBaseURL: getenv("REELNOTE_CLASSIFIER_BASE_URL"),
		PrimaryModel:      getenv("REELNOTE_PRIMARY_MODEL"),
		SecondaryModel:    getenv("REELNOTE_SECONDARY_MODEL"),
		LogLevel:          getenv("REELNOTE_LOG_LEVEL"),
		TimeZone:          getenv("REELNOTE_TIME_ZONE"),
	}
	return Merge(cfg, overlay)
}

// BaseDir returns the data directory: $REELNOTE_HOME, else ~/.reelnote.
func BaseDir() (string, error) {
	if dir := getenv("REELNOTE_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".reelnote"), nil
}

// PrimaryTimeout returns the per-attempt timeout for the primary model.
func (c *Config) PrimaryTimeout() time.Duration {
	return time.Duration(c.PrimaryTimeoutSeconds) * time.Second
}

// SecondaryTimeout returns the per-attempt timeout for the secondary model.
func (c *Config) SecondaryTimeout() time.Duration {
	return time.Duration(c.SecondaryTimeoutSeconds) * time.Second
}

// Location resolves TimeZone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to warn.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		ClassifierBaseURL:       firstString(overlay.ClassifierBaseURL, base.ClassifierBaseURL),
		PrimaryModel:            firstString(overlay.PrimaryModel, base.PrimaryModel),
		SecondaryModel:          firstString(overlay.SecondaryModel, base.SecondaryModel),
		PrimaryTimeoutSeconds:   firstInt(overlay.PrimaryTimeoutSeconds, base.PrimaryTimeoutSeconds),
		SecondaryTimeoutSeconds: firstInt(overlay.SecondaryTimeoutSeconds, base.SecondaryTimeoutSeconds),
		CacheSize:               firstInt(overlay.CacheSize, base.CacheSize),
		DateLayout:              firstString(overlay.DateLayout, base.DateLayout),
		TimeLayout:              firstString(overlay.TimeLayout, base.TimeLayout),
		TimeZone:                firstString(overlay.TimeZone, base.TimeZone),
		LogLevel:                firstString(overlay.LogLevel, base.LogLevel),
		DBMaxOpenConns:          firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:          firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
