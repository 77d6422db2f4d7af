// Package toggles provides the runtime kill-switch registry consulted before
// every handler invocation.
package toggles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// Store persists toggle state so operator changes survive a restart.
type Store interface {
	Upsert(ctx context.Context, id string, enabled bool) error
	List(ctx context.Context) ([]models.Toggle, error)
}

// Registry is the single source of truth for whether a named handler may run.
// Reads happen on every dispatch; writes only through the control surface.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]models.Toggle
	store   Store
	logger  ectologger.Logger
}

// NewRegistry creates a new toggle registry. store may be nil, in which case
// toggle state is held in memory only.
func NewRegistry(store Store, logger ectologger.Logger) *Registry {
	return &Registry{
		entries: make(map[string]models.Toggle),
		store:   store,
		logger:  logger,
	}
}

// Register registers a handler id with its default enabled state. Existing
// entries (e.g. loaded from the store) are not overwritten.
func (r *Registry) Register(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return
	}
	r.entries[id] = models.Toggle{ID: id, Enabled: enabled, UpdatedAt: time.Now()}
}

// Load overlays persisted toggle state onto registered defaults. Persisted
// rows for ids that are no longer registered are ignored.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	persisted, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range persisted {
		if _, ok := r.entries[t.ID]; ok {
			r.entries[t.ID] = t
		}
	}
	return nil
}

// IsEnabled reports whether the handler may run. Unknown ids are disabled;
// fail safe is the point of the registry.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	return entry.Enabled
}

// SetEnabled flips a toggle. Returns false if the id was never registered.
// The write-through to the store is best effort: a persistence failure is
// logged but the in-memory state still changes, because the kill-switch must
// work even when the database is down.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	entry.Enabled = enabled
	entry.UpdatedAt = time.Now()
	r.entries[id] = entry
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Upsert(ctx, id, enabled); err != nil {
			r.logger.WithContext(ctx).WithError(err).Errorf("Failed to persist toggle %s", id)
		}
	}
	return true
}

// List returns all toggles sorted by id.
func (r *Registry) List() []models.Toggle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Toggle, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
