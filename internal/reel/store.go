package reel

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
)

// Store is the ordered collection of saved reels, newest first.
// Every mutation writes the full collection before swapping memory, so a
// failed write leaves the store as it was.
type Store struct {
	mu      sync.Mutex
	kv      db.KeyValue
	records []Record
	logger  *slog.Logger
}

// Open loads the stored collection. A missing key is an empty collection; a
// corrupt value is logged and treated as empty.
func Open(ctx context.Context, kv db.KeyValue, logger *slog.Logger) (*Store, error) {
	s := &Store{
		kv:     kv,
		logger: logger.With(slog.String("component", "reel_store")),
	}

	raw, ok, err := kv.Get(ctx, db.KeyReels)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		var stored []Record
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.Warn("ignoring corrupt reel collection", slog.String("error", err.Error()))
		} else {
			s.records = stored
		}
	}

	return s, nil
}

// Insert prepends r and persists. It returns a copy of the new collection.
func (s *Store) Insert(ctx context.Context, r Record) ([]Record, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, errors.NewInvalidRequest("reel id is required")
	}
	if strings.TrimSpace(r.Category) == "" {
		return nil, errors.NewInvalidRequest("reel category is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(r.ID) >= 0 {
		return nil, errors.NewInvalidRequest("reel id already exists: " + r.ID)
	}

	next := make([]Record, 0, len(s.records)+1)
	next = append(next, r)
	next = append(next, s.records...)
	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	return slices.Clone(s.records), nil
}

// Delete removes the record with id. An unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return slices.Clone(s.records), nil
	}
	if err := s.persistLocked(ctx, slices.Delete(slices.Clone(s.records), idx, idx+1)); err != nil {
		return nil, err
	}
	return slices.Clone(s.records), nil
}

// Get returns the record with id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Record{}, errors.NewNotFound(id)
	}
	return s.records[idx], nil
}

// All returns a copy of every record, newest first.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Categories returns the distinct categories in use, in first-seen order.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, r := range s.records {
		if !slices.Contains(out, r.Category) {
			out = append(out, r.Category)
		}
	}
	return out
}

// Query filters the collection.
type Query struct {
	// Search matches a case-insensitive substring of caption or category.
	// When set, Category is ignored.
	Search string

	// Category matches exactly. Empty or category.All matches everything.
	Category string
}

// Match reports whether r passes q.
func (q Query) Match(r Record) bool {
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		return strings.Contains(strings.ToLower(r.Caption), search) ||
			strings.Contains(strings.ToLower(r.Category), search)
	}
	if q.Category != "" && q.Category != category.All {
		return r.Category == q.Category
	}
	return true
}

// Query returns the records matching q, in store order. The sequence ranges
// over a snapshot taken now; later mutations are not observed.
func (s *Store) Query(q Query) iter.Seq[Record] {
	snapshot := s.All()
	return func(yield func(Record) bool) {
		for _, r := range snapshot {
			if !q.Match(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

func (s *Store) persistLocked(ctx context.Context, next []Record) error {
	if next == nil {
		next = []Record{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := s.kv.Set(ctx, db.KeyReels, string(data)); err != nil {
		return err
	}
	s.records = next
	return nil
}
