package classifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/errors"
)

const testKey = "AIzaSyTestSecretKey"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticKey string

func (k staticKey) Get(context.Context) (string, bool) {
	return string(k), k != ""
}

// setupMockModel starts a fake generateContent server. handler receives the
// model name parsed from the path.
func setupMockModel(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, model string)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")
		handler(w, r, model)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func respondText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	})
}

func newTestClient(baseURL string, key staticKey) *Client {
	return New(Config{
		BaseURL:          baseURL,
		PrimaryTimeout:   200 * time.Millisecond,
		SecondaryTimeout: time.Second,
		CacheSize:        16,
	}, key, testLogger())
}

func TestClassify_MissingCredentialMakesNoCall(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "Gym")
	})
	c := newTestClient(server.URL, "")

	_, err := c.Classify(context.Background(), "leg day")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))

	_, err = c.Suggest(context.Background(), "leg day", nil)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))

	assert.Equal(t, int32(0), calls.Load())
}

func TestClassify_RequestShape(t *testing.T) {
	server, _ := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		assert.Equal(t, DefaultPrimaryModel, model)
		assert.Equal(t, testKey, r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req generateRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) || !assert.Len(t, req.Contents, 1) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "[Motivational, Gym, Communication, Ideas, Coding, UI, ML-AI, Job, Internships, love, sayari, songs]")
		assert.True(t, strings.HasSuffix(req.Contents[0].Parts[0].Text, "\n\nText to classify: leg day"))
		assert.Equal(t, singleConfig, req.GenerationConfig)

		respondText(w, " Gym\n")
	})

	got, err := newTestClient(server.URL, testKey).Classify(context.Background(), "leg day")
	require.NoError(t, err)
	assert.Equal(t, "Gym", got)
}

func TestClassify_PrimaryTimeoutFallsBack(t *testing.T) {
	var (
		mu     sync.Mutex
		models []string
	)
	server, _ := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		mu.Lock()
		models = append(models, model)
		mu.Unlock()
		if model == DefaultPrimaryModel {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		respondText(w, "Gym")
	})
	c := newTestClient(server.URL, testKey)

	got, err := c.Classify(context.Background(), "squats and deadlifts")
	require.NoError(t, err)
	assert.Equal(t, "Gym", got)
	mu.Lock()
	assert.Equal(t, []string{DefaultPrimaryModel, DefaultSecondaryModel}, models)
	mu.Unlock()

	snap, err := c.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap["reelnote_classifier_fallbacks_total"])
	assert.Equal(t, 1.0, snap["reelnote_classifier_requests_total{model=gemini-2.0-flash,outcome=ok}"])
	assert.Equal(t, 1.0, snap["reelnote_classifier_requests_total{model=gemini-2.5-pro,outcome=error}"])
}

func TestClassify_UnknownAnswerIsOther(t *testing.T) {
	tests := []struct {
		answer string
		want   string
	}{
		{"NotARealCategory", category.Other},
		{"gym", category.Other},
		{"sayari", "sayari"},
		{"ML-AI", "ML-AI"},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			server, _ := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
				respondText(w, tt.answer)
			})
			got, err := newTestClient(server.URL, testKey).Classify(context.Background(), "caption")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_BothModelsFail(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	})

	_, err := newTestClient(server.URL, testKey).Classify(context.Background(), "caption")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrClassificationUnavailable))
	assert.Equal(t, int32(2), calls.Load())
	assert.NotContains(t, err.Error(), testKey)

	re, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, 2, re.Details["attempts"])
	assert.NotContains(t, re.Unwrap().Error(), testKey)
}

func TestClassify_EmptyPayloadFallsBack(t *testing.T) {
	server, _ := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		if model == DefaultPrimaryModel {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"candidates":[]}`))
			return
		}
		respondText(w, "Coding")
	})

	got, err := newTestClient(server.URL, testKey).Classify(context.Background(), "go generics")
	require.NoError(t, err)
	assert.Equal(t, "Coding", got)
}

func TestClassify_EmptyAnswerIsOther(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "  \n")
	})

	got, err := newTestClient(server.URL, testKey).Classify(context.Background(), "caption")
	require.NoError(t, err)
	assert.Equal(t, category.Other, got)
	assert.Equal(t, int32(1), calls.Load(), "an empty answer does not trigger the fallback model")
}

func TestSuggest_EmptyAnswerDegrades(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "")
	})

	got, err := newTestClient(server.URL, testKey).Suggest(context.Background(), "caption", nil)
	require.NoError(t, err)
	assert.Equal(t, DegradedSuggestion(), got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassify_TransportErrorDoesNotLeakKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := newTestClient(baseURL, testKey).Classify(context.Background(), "caption")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrClassificationUnavailable))

	re, ok := errors.As(err)
	require.True(t, ok)
	assert.NotContains(t, re.Error(), testKey)
	assert.NotContains(t, re.Unwrap().Error(), testKey)
	assert.NotContains(t, re.Unwrap().Error(), "key=")
}

func TestClassify_Cache(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "Ideas")
	})
	c := newTestClient(server.URL, testKey)
	ctx := context.Background()

	for range 3 {
		got, err := c.Classify(ctx, "startup idea")
		require.NoError(t, err)
		assert.Equal(t, "Ideas", got)
	}
	assert.Equal(t, int32(1), calls.Load())

	snap, err := c.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap["reelnote_classifier_cache_hits_total"])
	assert.Equal(t, 1.0, snap["reelnote_classifier_cache_misses_total"])
}

func TestClassify_CacheDisabled(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "Ideas")
	})
	c := New(Config{BaseURL: server.URL, CacheSize: -1}, staticKey(testKey), testLogger())

	for range 2 {
		_, err := c.Classify(context.Background(), "startup idea")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestClassify_EmptyCaption(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0", testKey).Classify(context.Background(), "  ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestClassify_Cancelled(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		respondText(w, "Gym")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL, testKey).Classify(ctx, "caption")
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.LessOrEqual(t, calls.Load(), int32(1), "no fallback after cancellation")
}

func TestSuggest_Responses(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		custom   []string
		want     Suggestion
		degraded bool
	}{
		{
			name:   "structured",
			answer: `{"primary": "Gym", "suggestions": ["Gym", "Sports", "Motivational"]}`,
			want:   Suggestion{Primary: "Gym", Suggestions: []string{"Gym", "Sports", "Motivational"}},
		},
		{
			name:   "code fenced",
			answer: "```json\n{\"primary\": \"Coding\", \"suggestions\": [\"Coding\", \"AI/ML\"]}\n```",
			want:   Suggestion{Primary: "Coding", Suggestions: []string{"Coding", "AI/ML", "Other"}},
		},
		{
			name:   "custom category",
			answer: `{"primary": "Recipes", "suggestions": ["recipes", "Food", "Food"]}`,
			custom: []string{"Recipes"},
			want:   Suggestion{Primary: "Recipes", Suggestions: []string{"Recipes", "Food", "Other"}},
		},
		{
			name:   "unknown primary and suggestions",
			answer: `{"primary": "Astrology", "suggestions": ["Tarot", "Zodiac", "Stars", "Moon"]}`,
			want:   Suggestion{Primary: "Other", Suggestions: []string{"Other", "Entertainment", "Communication"}},
		},
		{
			name:   "too many suggestions",
			answer: `{"primary": "Gym", "suggestions": ["Gym", "Sports", "Food", "Travel"]}`,
			want:   Suggestion{Primary: "Gym", Suggestions: []string{"Gym", "Sports", "Food"}},
		},
		{
			name:   "plain name",
			answer: "Travel",
			want:   Suggestion{Primary: "Travel", Suggestions: []string{"Travel", "Entertainment", "Communication"}},
		},
		{
			name:   "json string",
			answer: `"News"`,
			want:   Suggestion{Primary: "News", Suggestions: []string{"News", "Entertainment", "Communication"}},
		},
		{
			name:   "malformed json",
			answer: `{"primary": "Gym", "suggestions": [`,
			want:   Suggestion{Primary: "Other", Suggestions: []string{"Entertainment", "Communication", "Other"}},
		},
		{
			name:   "empty fence",
			answer: "```\n```",
			want:   DegradedSuggestion(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
				var req generateRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, suggestConfig, req.GenerationConfig)
				for _, c := range tt.custom {
					assert.Contains(t, req.Contents[0].Parts[0].Text, c)
				}
				respondText(w, tt.answer)
			})

			got, err := newTestClient(server.URL, testKey).Suggest(context.Background(), "caption", tt.custom)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			vocabulary := Vocabulary(tt.custom)
			assert.Len(t, got.Suggestions, SuggestionCount)
			assert.Contains(t, vocabulary, got.Primary)
			for _, s := range got.Suggestions {
				assert.Contains(t, vocabulary, s)
			}
		})
	}
}

func TestSuggest_BothModelsFailDegrades(t *testing.T) {
	server, calls := setupMockModel(t, func(w http.ResponseWriter, r *http.Request, model string) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(server.URL, testKey)

	got, err := c.Suggest(context.Background(), "caption", nil)
	require.NoError(t, err)
	assert.Equal(t, DegradedSuggestion(), got)
	assert.True(t, got.Degraded)
	assert.Equal(t, int32(2), calls.Load())

	snap, err := c.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap["reelnote_classifier_degraded_total"])
}

func TestVocabulary(t *testing.T) {
	v := Vocabulary([]string{"Recipes", "gym", "  ", "Recipes"})

	assert.Equal(t, category.BuiltIn(), v[:len(category.BuiltIn())])
	assert.Equal(t, "Recipes", v[len(v)-1])
	assert.Len(t, v, len(category.BuiltIn())+1)
}
