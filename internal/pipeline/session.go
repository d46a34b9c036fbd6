// Package pipeline runs shared content through classification and saving.
//
// A Session owns every piece of persisted state (categories, reels, the API
// key, settings) plus a single pending slot for content that has been shared
// but not yet saved. Only one item may be pending at a time.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/classifier"
	"github.com/hpungsan/reelnote/internal/credential"
	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/reel"
	"github.com/hpungsan/reelnote/internal/settings"
)

// State is the position of the pending slot in the share flow.
type State int

const (
	StateIdle State = iota
	StateReceived
	StateClassifying
	StateAwaitingSelection
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceived:
		return "received"
	case StateClassifying:
		return "classifying"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// Classifier is the subset of classifier.Client the session uses.
type Classifier interface {
	Classify(ctx context.Context, caption string) (string, error)
	Suggest(ctx context.Context, caption string, custom []string) (classifier.Suggestion, error)
}

// Pending is shared content awaiting a category.
type Pending struct {
	URL       string    `json:"url"`
	Caption   string    `json:"caption"`
	Timestamp time.Time `json:"timestamp"`
}

// Prompt is what the user is asked after sharing.
type Prompt struct {
	Pending Pending `json:"pending"`

	// Suggestion is nil when classification was skipped or failed.
	Suggestion *classifier.Suggestion `json:"suggestion,omitempty"`

	// Categories is every known category, for manual choice.
	Categories []string `json:"categories"`

	// Manual is set when no suggestion is available and the user must pick
	// or type a category.
	Manual bool   `json:"manual"`
	Reason string `json:"reason,omitempty"`
}

// Options configures NewSession.
type Options struct {
	KV         db.KeyValue
	Classifier Classifier

	// Credentials defaults to a credential.Store over KV.
	Credentials *credential.Store

	Display reel.Display
	Now     func() time.Time
	Logger  *slog.Logger
}

// Session is the single share-classify-save flow plus the stores it drives.
type Session struct {
	registry   *category.Registry
	reels      *reel.Store
	creds      *credential.Store
	classifier Classifier
	kv         db.KeyValue
	display    reel.Display
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	settings settings.Settings
	state    State
	pending  *Pending
	// generation increments whenever the pending slot is filled or
	// discarded, so a classification that outlives its slot is dropped.
	generation uint64
}

// NewSession loads persisted state and returns an idle session.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.KV == nil {
		return nil, errors.NewInvalidRequest("pipeline: key-value store is required")
	}
	if opts.Classifier == nil {
		return nil, errors.NewInvalidRequest("pipeline: classifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credential.NewStore(opts.KV, logger)
	}
	display := opts.Display
	if display.DateLayout == "" || display.TimeLayout == "" {
		display = reel.DefaultDisplay()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	registry, err := category.OpenRegistry(ctx, opts.KV, logger)
	if err != nil {
		return nil, err
	}
	reels, err := reel.Open(ctx, opts.KV, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		registry:   registry,
		reels:      reels,
		creds:      creds,
		classifier: opts.Classifier,
		kv:         opts.KV,
		display:    display,
		now:        now,
		logger:     logger.With(slog.String("component", "pipeline")),
		settings:   settings.Load(ctx, opts.KV, logger),
	}, nil
}

// Registry returns the category registry.
func (s *Session) Registry() *category.Registry { return s.registry }

// Reels returns the reel store.
func (s *Session) Reels() *reel.Store { return s.reels }

// Credentials returns the API key store.
func (s *Session) Credentials() *credential.Store { return s.creds }

// State returns the current flow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the pending content, if any.
func (s *Session) Pending() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Pending{}, false
	}
	return *s.pending, true
}

// Draft splits shared text into a manual-entry draft without classifying it
// or touching the pending slot.
func (s *Session) Draft(text string) (Pending, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Pending{}, errors.NewInvalidRequest("shared text is empty")
	}
	url, caption := ExtractLink(text)
	return Pending{URL: url, Caption: caption, Timestamp: s.now()}, nil
}

// Share accepts shared text and returns the selection prompt.
//
// With auto-save on and an API key stored, the caption is classified for
// suggestions first. Otherwise, or if classification fails, the prompt is
// manual. The session lock is not held while the classifier runs; if the
// pending slot is cancelled meanwhile, Share returns CANCELLED and the
// result is discarded.
func (s *Session) Share(ctx context.Context, text string) (*Prompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NewInvalidRequest("shared text is empty")
	}

	s.mu.Lock()
	if s.pending != nil {
		url := s.pending.URL
		s.mu.Unlock()
		return nil, errors.NewPendingInFlight(url)
	}
	url, caption := ExtractLink(text)
	pending := Pending{URL: url, Caption: caption, Timestamp: s.now()}
	s.pending = &pending
	s.state = StateReceived
	s.generation++
	gen := s.generation
	autoSave := s.settings.AutoSave
	s.mu.Unlock()

	s.logger.Debug("content received", slog.String("url", url))

	var (
		suggestion *classifier.Suggestion
		reason     string
	)
	switch {
	case !autoSave:
		reason = "auto-save is off"
	case !s.creds.Has(ctx):
		reason = "no API key is stored"
	case !s.transition(gen, StateClassifying):
		return nil, errors.NewCancelled("share")
	default:
		result, err := s.classifier.Suggest(ctx, caption, s.registry.Custom())
		if err != nil {
			s.logger.Warn("classification failed, falling back to manual entry",
				slog.String("error", err.Error()))
			reason = "classification failed"
		} else {
			suggestion = &result
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.logger.Debug("discarding classification for cancelled share", slog.String("url", url))
		return nil, errors.NewCancelled("share")
	}
	s.state = StateAwaitingSelection

	return &Prompt{
		Pending:    pending,
		Suggestion: suggestion,
		Categories: s.registry.ListAll(),
		Manual:     suggestion == nil,
		Reason:     reason,
	}, nil
}

// transition moves to next if the pending slot still belongs to gen.
func (s *Session) transition(gen uint64, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.state = next
	return true
}

// EnsureCategory returns the stored spelling of name, creating it as a custom
// category if it is unknown.
func (s *Session) EnsureCategory(ctx context.Context, name string) (string, bool, error) {
	return s.registry.Ensure(ctx, name)
}

// SaveReel commits the pending content under cat and returns to idle. It
// fails with NO_PENDING unless a prompt is awaiting selection. On failure
// the pending content is kept so the user can retry.
func (s *Session) SaveReel(ctx context.Context, cat, notes string) (reel.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingSelection || s.pending == nil {
		return reel.Record{}, errors.NewNoPending()
	}
	s.state = StateSaving

	rec, err := reel.New(reel.NewInput{
		URL:       s.pending.URL,
		Caption:   s.pending.Caption,
		Category:  cat,
		Notes:     notes,
		Timestamp: s.pending.Timestamp,
	}, s.display)
	if err == nil {
		_, err = s.reels.Insert(ctx, rec)
	}
	if err != nil {
		s.state = StateAwaitingSelection
		return reel.Record{}, err
	}

	s.pending = nil
	s.state = StateIdle
	s.generation++
	s.logger.Info("reel saved", slog.String("id", rec.ID), slog.String("category", rec.Category))
	return rec, nil
}

// Select ensures cat exists and saves the pending content under it. A
// category created here is removed again if the save fails.
func (s *Session) Select(ctx context.Context, cat, notes string) (reel.Record, error) {
	if s.State() != StateAwaitingSelection {
		return reel.Record{}, errors.NewNoPending()
	}

	canonical, created, err := s.EnsureCategory(ctx, cat)
	if err != nil {
		return reel.Record{}, err
	}

	rec, err := s.SaveReel(ctx, canonical, notes)
	if err != nil {
		if created {
			if rmErr := s.registry.Remove(ctx, canonical); rmErr != nil {
				s.logger.Error("rolling back category",
					slog.String("category", canonical),
					slog.String("error", rmErr.Error()))
			}
		}
		return reel.Record{}, err
	}
	return rec, nil
}

// Cancel discards the pending content without touching storage. It reports
// the discarded content, or false if nothing was pending.
func (s *Session) Cancel() (Pending, bool) {
	p, ok := s.clearPending()
	if ok {
		s.logger.Debug("share cancelled", slog.String("url", p.URL))
	}
	return p, ok
}

// SwitchToManual abandons the suggestion flow and hands back the pending
// content so it can seed a manual entry.
func (s *Session) SwitchToManual() (Pending, bool) {
	return s.clearPending()
}

func (s *Session) clearPending() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.state == StateSaving {
		return Pending{}, false
	}
	p := *s.pending
	s.pending = nil
	s.state = StateIdle
	s.generation++
	return p, true
}

// ClassifyText classifies caption into the fixed single-answer vocabulary.
func (s *Session) ClassifyText(ctx context.Context, caption string) (string, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "", errors.NewInvalidRequest("caption is required")
	}
	if !s.creds.Has(ctx) {
		return "", errors.NewMissingCredential()
	}
	return s.classifier.Classify(ctx, caption)
}

// ManualInput is an explicit save with no suggestion step.
type ManualInput struct {
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// SaveManual saves a reel directly. An empty URL defaults to the caption.
// The category is stored as given and is not added to the registry.
func (s *Session) SaveManual(ctx context.Context, in ManualInput) (reel.Record, error) {
	caption := strings.TrimSpace(in.Caption)
	url := strings.TrimSpace(in.URL)
	if url == "" {
		url = caption
	}
	if url == "" {
		return reel.Record{}, errors.NewInvalidRequest("caption or url is required")
	}

	rec, err := reel.New(reel.NewInput{
		URL:       url,
		Caption:   caption,
		Category:  in.Category,
		Notes:     in.Notes,
		Timestamp: s.now(),
	}, s.display)
	if err != nil {
		return reel.Record{}, err
	}
	if _, err := s.reels.Insert(ctx, rec); err != nil {
		return reel.Record{}, err
	}
	s.logger.Info("reel saved manually", slog.String("id", rec.ID), slog.String("category", rec.Category))
	return rec, nil
}

// Settings returns the current settings.
func (s *Session) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetAutoSave persists the auto-save preference.
func (s *Session) SetAutoSave(ctx context.Context, on bool) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	next.AutoSave = on
	if err := settings.Save(ctx, s.kv, next); err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}
