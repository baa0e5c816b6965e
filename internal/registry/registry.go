// Package registry holds the in-memory set of tracked items.
//
// Every mutation goes through one mutex, so callbacks from independent
// progress channels are applied one at a time in arrival order.
package registry

import (
	"slices"
	"sync"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// Registry maps item ids to items. It is the single source of truth for
// current item state. The zero value is not usable; call New.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*models.Item
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{items: make(map[string]*models.Item)}
}

// Add inserts item, replacing any existing item with the same id.
func (r *Registry) Add(item models.Item) {
	cp := item.Clone()
	r.mu.Lock()
	r.items[item.ID] = &cp
	r.mu.Unlock()
}

// Get returns a copy of the item with id.
func (r *Registry) Get(id string) (models.Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return models.Item{}, false
	}
	return item.Clone(), true
}

// Merge overlays the fields present in u onto the item with id and returns
// the result. Unknown ids are ignored and report false: the item may have been
// removed or cleared while its events were in flight.
func (r *Registry) Merge(id string, u models.Update) (models.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return models.Item{}, false
	}
	apply(item, u)
	return item.Clone(), true
}

// Remove deletes the item with id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	return true
}

// Clear removes every item.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.items = make(map[string]*models.Item)
	r.mu.Unlock()
}

// Len returns the number of tracked items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Items returns copies of all items, most recent first.
func (r *Registry) Items() []models.Item {
	r.mu.RLock()
	out := make([]models.Item, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item.Clone())
	}
	r.mu.RUnlock()

	SortRecentFirst(out)
	return out
}

// SortRecentFirst orders items by creation time descending, breaking ties by id.
func SortRecentFirst(items []models.Item) {
	slices.SortStableFunc(items, func(a, b models.Item) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
