package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/classifier"
	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/reel"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClassifier records calls and returns canned answers.
type fakeClassifier struct {
	mu           sync.Mutex
	suggestCalls int
	classifyArgs []string
	lastCustom   []string

	suggestion classifier.Suggestion
	suggestErr error
	answer     string
	classErr   error

	// started and release, when set, make Suggest block until released.
	started chan struct{}
	release chan struct{}
}

func (f *fakeClassifier) Classify(ctx context.Context, caption string) (string, error) {
	f.mu.Lock()
	f.classifyArgs = append(f.classifyArgs, caption)
	f.mu.Unlock()
	return f.answer, f.classErr
}

func (f *fakeClassifier) Suggest(ctx context.Context, caption string, custom []string) (classifier.Suggestion, error) {
	f.mu.Lock()
	f.suggestCalls++
	f.lastCustom = custom
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.suggestion, f.suggestErr
}

func (f *fakeClassifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suggestCalls
}

// selectiveKV fails writes to failKey.
type selectiveKV struct {
	db.KeyValue
	mu      sync.Mutex
	failKey string
}

func (s *selectiveKV) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	fail := s.failKey == key
	s.mu.Unlock()
	if fail {
		return errors.NewPersistenceFailure("write", key, fmt.Errorf("disk full"))
	}
	return s.KeyValue.Set(ctx, key, value)
}

func (s *selectiveKV) failWrites(key string) {
	s.mu.Lock()
	s.failKey = key
	s.mu.Unlock()
}

func setupKV(t *testing.T) *selectiveKV {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return &selectiveKV{KeyValue: db.NewKV(database)}
}

func newSession(t *testing.T, kv db.KeyValue, cls Classifier) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Options{
		KV:         kv,
		Classifier: cls,
		Display:    reel.Display{DateLayout: "1/2/2006", TimeLayout: "3:04:05 PM", Location: time.UTC},
		Now:        func() time.Time { return fixedNow },
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	return s
}

func withKey(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Credentials().Set(context.Background(), "AIzaSyTestSecretKey"))
}

func gymSuggestion() classifier.Suggestion {
	return classifier.Suggestion{Primary: "Gym", Suggestions: []string{"Gym", "Sports", "Motivational"}}
}

func TestShare_SuggestsWithKey(t *testing.T) {
	cls := &fakeClassifier{suggestion: gymSuggestion()}
	s := newSession(t, setupKV(t), cls)
	withKey(t, s)
	ctx := context.Background()
	require.NoError(t, s.Registry().Add(ctx, "Recipes"))

	prompt, err := s.Share(ctx, "leg day https://instagram.com/reel/ABC123/")
	require.NoError(t, err)

	assert.Equal(t, "https://instagram.com/reel/ABC123/", prompt.Pending.URL)
	assert.Equal(t, "leg day", prompt.Pending.Caption)
	assert.True(t, prompt.Pending.Timestamp.Equal(fixedNow))
	require.NotNil(t, prompt.Suggestion)
	assert.Equal(t, "Gym", prompt.Suggestion.Primary)
	assert.False(t, prompt.Manual)
	assert.Contains(t, prompt.Categories, "Recipes")
	assert.Contains(t, prompt.Categories, category.Other)

	assert.Equal(t, StateAwaitingSelection, s.State())
	assert.Equal(t, []string{"Recipes"}, cls.lastCustom)
}

func TestShare_NoKeyIsManual(t *testing.T) {
	cls := &fakeClassifier{suggestion: gymSuggestion()}
	s := newSession(t, setupKV(t), cls)

	prompt, err := s.Share(context.Background(), "https://instagram.com/reel/ABC123/")
	require.NoError(t, err)

	assert.Nil(t, prompt.Suggestion)
	assert.True(t, prompt.Manual)
	assert.NotEmpty(t, prompt.Reason)
	assert.Equal(t, 0, cls.calls())
	assert.Equal(t, StateAwaitingSelection, s.State())
}

func TestShare_AutoSaveOffIsManual(t *testing.T) {
	cls := &fakeClassifier{suggestion: gymSuggestion()}
	s := newSession(t, setupKV(t), cls)
	withKey(t, s)
	_, err := s.SetAutoSave(context.Background(), false)
	require.NoError(t, err)

	prompt, err := s.Share(context.Background(), "some caption")
	require.NoError(t, err)
	assert.True(t, prompt.Manual)
	assert.Equal(t, 0, cls.calls())
}

func TestShare_SuggestErrorIsManual(t *testing.T) {
	cls := &fakeClassifier{suggestErr: errors.NewCancelled("suggest")}
	s := newSession(t, setupKV(t), cls)
	withKey(t, s)

	prompt, err := s.Share(context.Background(), "caption")
	require.NoError(t, err)
	assert.True(t, prompt.Manual)
	assert.Nil(t, prompt.Suggestion)
	assert.Equal(t, StateAwaitingSelection, s.State())
}

func TestShare_PendingInFlight(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "https://instagram.com/reel/FIRST/")
	require.NoError(t, err)

	_, err = s.Share(ctx, "https://instagram.com/reel/SECOND/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPendingInFlight))

	p, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, "https://instagram.com/reel/FIRST/", p.URL)
}

func TestShare_EmptyText(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})

	_, err := s.Share(context.Background(), "   ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Equal(t, StateIdle, s.State())
}

func TestSelect_SavesAndCreatesCategory(t *testing.T) {
	kv := setupKV(t)
	s := newSession(t, kv, &fakeClassifier{suggestion: gymSuggestion()})
	withKey(t, s)
	ctx := context.Background()

	_, err := s.Share(ctx, "https://instagram.com/reel/ABC123/")
	require.NoError(t, err)

	rec, err := s.Select(ctx, "  Home   Workouts ", "do on sundays")
	require.NoError(t, err)

	assert.Equal(t, "Home Workouts", rec.Category)
	assert.Equal(t, "https://instagram.com/reel/ABC123/", rec.URL)
	assert.Equal(t, "do on sundays", rec.Notes)
	assert.Equal(t, "3/5/2024", rec.DateAdded)
	assert.Equal(t, "2:07:09 PM", rec.TimeAdded)
	assert.True(t, s.Registry().Contains("Home Workouts"))
	assert.Equal(t, StateIdle, s.State())

	_, ok := s.Pending()
	assert.False(t, ok)

	// A fresh session sees the saved reel and category.
	fresh := newSession(t, kv, &fakeClassifier{})
	got, err := fresh.Reels().Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Caption, got.Caption)
	assert.Contains(t, fresh.Registry().Custom(), "Home Workouts")
}

func TestSelect_ExistingCategoryUsesStoredSpelling(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "caption")
	require.NoError(t, err)

	rec, err := s.Select(ctx, "gym", "")
	require.NoError(t, err)
	assert.Equal(t, "Gym", rec.Category)
	assert.Empty(t, s.Registry().Custom())
}

func TestSelect_RollsBackCategoryOnSaveFailure(t *testing.T) {
	kv := setupKV(t)
	s := newSession(t, kv, &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "caption")
	require.NoError(t, err)

	kv.failWrites(db.KeyReels)
	_, err = s.Select(ctx, "Brand New", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistenceFailure))

	assert.False(t, s.Registry().Contains("Brand New"))
	assert.Equal(t, 0, s.Reels().Len())
	assert.Equal(t, StateAwaitingSelection, s.State(), "pending content survives a failed save")

	kv.failWrites("")
	rec, err := s.Select(ctx, "Brand New", "")
	require.NoError(t, err)
	assert.Equal(t, "Brand New", rec.Category)
}

func TestSaveReel_NoPending(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})

	_, err := s.SaveReel(context.Background(), "Gym", "")
	assert.True(t, errors.Is(err, errors.ErrNoPending))

	_, err = s.Select(context.Background(), "Gym", "")
	assert.True(t, errors.Is(err, errors.ErrNoPending))
	assert.Empty(t, s.Registry().Custom())
}

func TestCancel_DiscardsWithoutStorage(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "https://instagram.com/reel/ABC123/")
	require.NoError(t, err)

	p, ok := s.Cancel()
	require.True(t, ok)
	assert.Equal(t, "https://instagram.com/reel/ABC123/", p.URL)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Reels().Len())

	_, ok = s.Cancel()
	assert.False(t, ok)

	// The slot is free again.
	_, err = s.Share(ctx, "next")
	require.NoError(t, err)
}

func TestCancel_DuringClassificationDiscardsLateResult(t *testing.T) {
	cls := &fakeClassifier{
		suggestion: gymSuggestion(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := newSession(t, setupKV(t), cls)
	withKey(t, s)

	type result struct {
		prompt *Prompt
		err    error
	}
	done := make(chan result, 1)
	go func() {
		p, err := s.Share(context.Background(), "caption")
		done <- result{p, err}
	}()

	<-cls.started
	assert.Equal(t, StateClassifying, s.State())

	_, ok := s.Cancel()
	require.True(t, ok)
	close(cls.release)

	res := <-done
	assert.Nil(t, res.prompt)
	assert.True(t, errors.Is(res.err, errors.ErrCancelled))
	assert.Equal(t, StateIdle, s.State())
	_, ok = s.Pending()
	assert.False(t, ok)
}

func TestSwitchToManual(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "morning routine https://instagram.com/reel/ABC123/")
	require.NoError(t, err)

	p, ok := s.SwitchToManual()
	require.True(t, ok)
	assert.Equal(t, "morning routine", p.Caption)
	assert.Equal(t, StateIdle, s.State())

	rec, err := s.SaveManual(ctx, ManualInput{URL: p.URL, Caption: p.Caption, Category: "Motivational"})
	require.NoError(t, err)
	assert.Equal(t, p.URL, rec.URL)
}

func TestDraft_SkipsClassification(t *testing.T) {
	cls := &fakeClassifier{suggestion: gymSuggestion()}
	s := newSession(t, setupKV(t), cls)
	withKey(t, s)

	p, err := s.Draft("morning routine https://instagram.com/reel/ABC123/")
	require.NoError(t, err)
	assert.Equal(t, "https://instagram.com/reel/ABC123/", p.URL)
	assert.Equal(t, "morning routine", p.Caption)
	assert.True(t, p.Timestamp.Equal(fixedNow))

	assert.Zero(t, cls.calls())
	assert.Equal(t, StateIdle, s.State())
	_, pending := s.Pending()
	assert.False(t, pending)

	_, err = s.Draft("   ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestClassifyText(t *testing.T) {
	cls := &fakeClassifier{answer: "Coding"}
	s := newSession(t, setupKV(t), cls)
	ctx := context.Background()

	_, err := s.ClassifyText(ctx, "go generics")
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
	assert.Empty(t, cls.classifyArgs)

	withKey(t, s)

	_, err = s.ClassifyText(ctx, "  ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	got, err := s.ClassifyText(ctx, " go generics ")
	require.NoError(t, err)
	assert.Equal(t, "Coding", got)
	assert.Equal(t, []string{"go generics"}, cls.classifyArgs)
}

func TestSaveManual(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	rec, err := s.SaveManual(ctx, ManualInput{Caption: "typed caption", Category: "Not A Registered One"})
	require.NoError(t, err)

	assert.Equal(t, "typed caption", rec.URL, "url defaults to caption")
	assert.Equal(t, "Not A Registered One", rec.Category)
	assert.False(t, s.Registry().Contains("Not A Registered One"))
	assert.Equal(t, 1, s.Reels().Len())

	_, err = s.SaveManual(ctx, ManualInput{Category: "Gym"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = s.SaveManual(ctx, ManualInput{Caption: "x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSaveManual_IndependentOfPending(t *testing.T) {
	s := newSession(t, setupKV(t), &fakeClassifier{})
	ctx := context.Background()

	_, err := s.Share(ctx, "pending")
	require.NoError(t, err)

	_, err = s.SaveManual(ctx, ManualInput{Caption: "other", Category: "Gym"})
	require.NoError(t, err)

	_, ok := s.Pending()
	assert.True(t, ok)
}

func TestSetAutoSave_Persists(t *testing.T) {
	kv := setupKV(t)
	s := newSession(t, kv, &fakeClassifier{})
	assert.True(t, s.Settings().AutoSave)

	got, err := s.SetAutoSave(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, got.AutoSave)

	assert.False(t, newSession(t, kv, &fakeClassifier{}).Settings().AutoSave)
}

func TestSetAutoSave_FailureKeepsSetting(t *testing.T) {
	kv := setupKV(t)
	s := newSession(t, kv, &fakeClassifier{})

	kv.failWrites(db.KeySettings)
	_, err := s.SetAutoSave(context.Background(), false)
	require.Error(t, err)
	assert.True(t, s.Settings().AutoSave)
}

func TestNewSession_RequiresDependencies(t *testing.T) {
	_, err := NewSession(context.Background(), Options{Classifier: &fakeClassifier{}})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = NewSession(context.Background(), Options{KV: setupKV(t)})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting_selection", StateAwaitingSelection.String())
	assert.Equal(t, "unknown", State(99).String())
}
