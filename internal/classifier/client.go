// Package classifier asks a Gemini generateContent endpoint to categorize
// shared captions, either as a single fixed-vocabulary answer (Classify) or
// as a primary category with three suggestions (Suggest).
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/errors"
)

const (
	DefaultBaseURL          = "https://generativelanguage.googleapis.com/v1beta"
	DefaultPrimaryModel     = "gemini-2.5-pro"
	DefaultSecondaryModel   = "gemini-2.0-flash"
	DefaultPrimaryTimeout   = 10 * time.Second
	DefaultSecondaryTimeout = 30 * time.Second

	cacheTTL = 24 * time.Hour
)

// KeySource supplies the API key. credential.Store satisfies it.
type KeySource interface {
	Get(ctx context.Context) (string, bool)
}

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	BaseURL          string
	PrimaryModel     string
	SecondaryModel   string
	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration

	// CacheSize bounds the single-category answer cache. Zero or negative
	// disables it.
	CacheSize int

	// HTTPClient overrides the transport. Per-attempt timeouts are applied
	// through the request context, not the client.
	HTTPClient *http.Client
}

// Client calls the classifier service with primary/secondary model fallback.
type Client struct {
	cfg        Config
	keys       KeySource
	httpClient *http.Client
	cache      *expirable.LRU[string, string]
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config, keys KeySource, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = DefaultPrimaryModel
	}
	if cfg.SecondaryModel == "" {
		cfg.SecondaryModel = DefaultSecondaryModel
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if cfg.SecondaryTimeout <= 0 {
		cfg.SecondaryTimeout = DefaultSecondaryTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		cfg:        cfg,
		keys:       keys,
		httpClient: httpClient,
		metrics:    NewMetrics(),
		logger:     logger.With(slog.String("component", "classifier")),
	}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, cacheTTL)
	}
	return c
}

// Metrics returns the client's counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Classify returns one of SingleVocabulary for caption, or category.Other
// when the model answers anything else. It fails with MISSING_CREDENTIAL
// before any network call when no key is stored, and with
// CLASSIFICATION_UNAVAILABLE when both models fail.
func (c *Client) Classify(ctx context.Context, caption string) (string, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "", errors.NewInvalidRequest("caption is required")
	}
	key, ok := c.keys.Get(ctx)
	if !ok {
		return "", errors.NewMissingCredential()
	}

	if c.cache != nil {
		if answer, ok := c.cache.Get(caption); ok {
			c.metrics.cacheHits.Inc()
			return answer, nil
		}
		c.metrics.cacheMisses.Inc()
	}

	text, attempts, err := c.generate(ctx, key, buildPrompt(singleInstruction(), caption), singleConfig)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.NewCancelled("classify")
		}
		return "", errors.NewClassificationUnavailable(attempts, err)
	}

	answer := matchSingle(text)
	if c.cache != nil {
		c.cache.Add(caption, answer)
	}
	return answer, nil
}

// Suggest returns a primary category and exactly SuggestionCount suggestions
// drawn from the built-in categories plus custom. Model failures and
// unusable answers degrade to DegradedSuggestion instead of failing. The
// only errors are MISSING_CREDENTIAL, checked before any network call, and
// CANCELLED when ctx ends first.
func (c *Client) Suggest(ctx context.Context, caption string, custom []string) (Suggestion, error) {
	key, ok := c.keys.Get(ctx)
	if !ok {
		return Suggestion{}, errors.NewMissingCredential()
	}

	vocabulary := Vocabulary(custom)
	text, _, err := c.generate(ctx, key, buildPrompt(suggestInstruction(vocabulary), caption), suggestConfig)
	if err != nil {
		if ctx.Err() != nil {
			return Suggestion{}, errors.NewCancelled("suggest")
		}
		c.logger.Warn("suggestions unavailable, using fallback", slog.String("error", err.Error()))
		c.metrics.degraded.Inc()
		return DegradedSuggestion(), nil
	}

	s := parseResponse(text).resolve(vocabulary)
	if s.Degraded {
		c.logger.Warn("unusable suggestion response, using fallback")
		c.metrics.degraded.Inc()
	}
	return s, nil
}

// Vocabulary is the built-in categories followed by any custom categories
// not already present (compared case-insensitively).
func Vocabulary(custom []string) []string {
	vocabulary := category.BuiltIn()
	for _, name := range custom {
		name = category.Clean(name)
		if name == "" {
			continue
		}
		if _, ok := category.Find(vocabulary, name); !ok {
			vocabulary = append(vocabulary, name)
		}
	}
	return slices.Clip(vocabulary)
}

type attempt struct {
	model   string
	timeout time.Duration
}

// generate tries the primary model, then the secondary model once. It returns
// the answer text and how many attempts were made.
func (c *Client) generate(ctx context.Context, key, prompt string, gen generationConfig) (string, int, error) {
	attempts := []attempt{
		{model: c.cfg.PrimaryModel, timeout: c.cfg.PrimaryTimeout},
		{model: c.cfg.SecondaryModel, timeout: c.cfg.SecondaryTimeout},
	}

	var lastErr error
	for i, a := range attempts {
		text, err := c.call(ctx, key, a, prompt, gen)
		if err == nil {
			c.metrics.requests.WithLabelValues(a.model, "ok").Inc()
			return text, i + 1, nil
		}
		c.metrics.requests.WithLabelValues(a.model, "error").Inc()
		lastErr = err

		if ctx.Err() != nil {
			return "", i + 1, err
		}
		if i+1 < len(attempts) {
			c.metrics.fallbacks.Inc()
			c.logger.Warn("model failed, falling back",
				slog.String("model", a.model),
				slog.String("fallback", attempts[i+1].model),
				slog.String("error", err.Error()),
			)
		}
	}
	return "", len(attempts), lastErr
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

var errNoText = stderrors.New("response contained no text")

// call makes one generateContent request. Returned errors never contain the
// request URL, which carries the key.
func (c *Client) call(ctx context.Context, key string, a attempt, prompt string, gen generationConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: prompt}},
		}},
		GenerationConfig: gen,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, url.PathEscape(a.model), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", a.model, redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", a.model, redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("%s returned status %d", a.model, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding %s response: %w", a.model, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: %w", a.model, errNoText)
	}
	// An empty answer is still an answer; callers map it to Other or the
	// degraded suggestions.
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text), nil
}

// redact drops the *url.Error wrapper, whose message includes the full URL.
func redact(err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
