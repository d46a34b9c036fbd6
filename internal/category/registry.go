package category

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/errors"
)

// Registry holds custom categories on top of the built-in list.
// Mutations persist before the in-memory list changes.
type Registry struct {
	mu     sync.Mutex
	kv     db.KeyValue
	custom []string
	logger *slog.Logger
}

// OpenRegistry loads custom categories from kv. A missing key is an empty
// list; a corrupt value is logged and treated as empty. Stored names that
// collide with a built-in or an earlier entry, ignoring case, are dropped.
func OpenRegistry(ctx context.Context, kv db.KeyValue, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		kv:     kv,
		logger: logger.With(slog.String("component", "category_registry")),
	}

	raw, ok, err := kv.Get(ctx, db.KeyCategories)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		var stored []string
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			r.logger.Warn("ignoring corrupt custom categories", slog.String("error", err.Error()))
		} else {
			for _, name := range stored {
				name = Clean(name)
				if name == "" || IsBuiltIn(name) {
					continue
				}
				if _, dup := Find(r.custom, name); dup {
					continue
				}
				r.custom = append(r.custom, name)
			}
		}
	}

	return r, nil
}

// ListAll returns the sorted union of built-in and custom categories.
func (r *Registry) ListAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listAllLocked()
}

func (r *Registry) listAllLocked() []string {
	all := make([]string, 0, len(builtIn)+len(r.custom))
	all = append(all, builtIn...)
	for _, c := range r.custom {
		if !slices.Contains(all, c) {
			all = append(all, c)
		}
	}
	sort.Strings(all)
	return all
}

// Custom returns the custom categories in insertion order.
func (r *Registry) Custom() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.custom)
}

// Contains reports whether name is a known category, ignoring case.
func (r *Registry) Contains(name string) bool {
	_, ok := Find(r.ListAll(), Clean(name))
	return ok
}

// Add appends name to the custom set. Names are compared case-insensitively,
// so "gym" collides with the built-in "Gym".
func (r *Registry) Add(ctx context.Context, name string) error {
	name = Clean(name)
	if name == "" {
		return errors.NewInvalidRequest("category name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := Find(r.listAllLocked(), name); ok {
		return errors.NewDuplicateCategory(name, existing)
	}
	return r.persistLocked(ctx, append(slices.Clone(r.custom), name))
}

// Ensure returns the stored spelling of name, adding it as a custom category
// first if it is unknown. created reports whether the registry changed.
func (r *Registry) Ensure(ctx context.Context, name string) (canonical string, created bool, err error) {
	name = Clean(name)
	if name == "" {
		return "", false, errors.NewInvalidRequest("category name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := Find(r.listAllLocked(), name); ok {
		return existing, false, nil
	}
	if err := r.persistLocked(ctx, append(slices.Clone(r.custom), name)); err != nil {
		return "", false, err
	}
	return name, true, nil
}

// Remove deletes name from the custom set, ignoring case. Built-in or
// unknown names are a no-op. Reels tagged with name are left alone.
func (r *Registry) Remove(ctx context.Context, name string) error {
	name = Clean(name)

	if name == "" || IsBuiltIn(name) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.custom, func(c string) bool { return strings.EqualFold(c, name) })
	if idx < 0 {
		return nil
	}
	return r.persistLocked(ctx, slices.Delete(slices.Clone(r.custom), idx, idx+1))
}

// persistLocked writes next and swaps it in only on success.
func (r *Registry) persistLocked(ctx context.Context, next []string) error {
	if next == nil {
		next = []string{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := r.kv.Set(ctx, db.KeyCategories, string(data)); err != nil {
		return err
	}
	r.custom = next
	return nil
}
