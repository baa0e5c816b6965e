// Package history persists completed items across sessions.
//
// The whole history is one JSON array, most recent first, stored under a
// single fixed key. Writes are full snapshots, so backends need no locking
// beyond making each write atomic.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
	"github.com/raphaelgruber/hydra-inbox/internal/registry"
)

// Key names the durable entry.
const Key = "hydra_ingest_history"

// DefaultLimit is the number of completed items kept.
const DefaultLimit = 50

// ErrNoEntry is returned by a Backend when nothing has been stored yet.
var ErrNoEntry = errors.New("history entry not found")

// Backend stores the raw history document.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Snapshot filters items down to what history keeps: completed only, most
// recent first, at most limit entries.
func Snapshot(items []models.Item, limit int) []models.Item {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]models.Item, 0, min(len(items), limit))
	for _, item := range items {
		if item.Status == models.StatusCompleted {
			out = append(out, item.Clone())
		}
	}
	registry.SortRecentFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Store is the HistoryStore over a Backend.
type Store struct {
	backend Backend
	limit   int
	logger  *slog.Logger
}

// NewStore creates a history store. A nil logger uses slog.Default.
func NewStore(backend Backend, limit int, logger *slog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, limit: limit, logger: logger}
}

// Limit returns the configured cap.
func (s *Store) Limit() int {
	return s.limit
}

// Load returns the persisted history. An absent or corrupt entry loads as
// empty. A failed read is returned so callers can avoid overwriting an
// entry they never saw.
func (s *Store) Load(ctx context.Context) ([]models.Item, error) {
	data, err := s.backend.Read(ctx, Key)
	if errors.Is(err, ErrNoEntry) {
		return []models.Item{}, nil
	}
	if err != nil {
		s.logger.Warn("failed to read history", "error", err)
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return []models.Item{}, nil
	}

	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn("history entry is corrupt, starting empty", "error", err, "bytes", len(data))
		return []models.Item{}, nil
	}

	// Re-apply the filter in case the entry was edited by hand.
	loaded := Snapshot(items, s.limit)
	s.logger.Debug("history loaded", "items", len(loaded))
	return loaded, nil
}

// Persist recomputes the snapshot from items and writes it.
func (s *Store) Persist(ctx context.Context, items []models.Item) error {
	snapshot := Snapshot(items, s.limit)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.backend.Write(ctx, Key, data); err != nil {
		s.logger.Warn("failed to persist history", "error", err, "items", len(snapshot))
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Clear deletes the persisted history.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, Key); err != nil && !errors.Is(err, ErrNoEntry) {
		s.logger.Warn("failed to clear history", "error", err)
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
