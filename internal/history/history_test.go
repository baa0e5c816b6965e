package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func completedItem(id string, created time.Time) models.Item {
	return models.Item{
		ID:          id,
		Source:      models.SourceUpload,
		ContentType: models.ContentDocument,
		Status:      models.StatusCompleted,
		Progress:    100,
		CurrentStep: "done",
		Filename:    id + ".md",
		CreatedAt:   created,
	}
}

// backends returns every backend that runs without external services.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileBackend(filepath.Join(dir, "files"))
	require.NoError(t, err)

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   file,
		"sqlite": sqlite,
	}
}

func TestHistoryFilterAndCap(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(backend, DefaultLimit, quietLogger())

			var items []models.Item
			for i := range 60 {
				item := completedItem(fmt.Sprintf("item-%02d", i), base.Add(time.Duration(i)*time.Minute))
				switch {
				case i%24 == 0:
					item.Status = models.StatusFailed
					item.Error = "boom"
				case i%24 == 12:
					item.Status = models.StatusAnalyzing
				}
				items = append(items, item)
			}
			completed := 0
			for _, item := range items {
				if item.Status == models.StatusCompleted {
					completed++
				}
			}
			require.Equal(t, 55, completed)

			require.NoError(t, store.Persist(ctx, items))
			loaded := load(t, store)

			require.Len(t, loaded, 50)
			for i, item := range loaded {
				assert.Equal(t, models.StatusCompleted, item.Status)
				if i > 0 {
					assert.False(t, item.CreatedAt.After(loaded[i-1].CreatedAt), "most recent first")
				}
			}
			assert.Equal(t, "item-59", loaded[0].ID)
		})
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(backend, DefaultLimit, quietLogger())

			item := completedItem("rt-1", time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC))
			item.Source = models.SourceURL
			item.ContentType = models.ContentURL
			item.Title = "An article"
			item.URL = "https://example.com/a"
			item.Summary = "It says things."
			item.KeyInsights = []string{"first", "second", "third"}
			item.ActionItems = []string{"read again"}
			item.Tags = []string{"ml", "infra"}
			item.RelevanceToHydra = "Directly applicable to the GPU scheduler."

			require.NoError(t, store.Persist(ctx, []models.Item{item}))
			loaded := load(t, store)
			require.Len(t, loaded, 1)

			got := loaded[0]
			assert.True(t, item.CreatedAt.Equal(got.CreatedAt))
			got.CreatedAt = item.CreatedAt
			assert.Equal(t, item, got)
		})
	}
}

func TestLoadAbsentIsEmpty(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			loaded := load(t, NewStore(backend, 0, quietLogger()))
			assert.NotNil(t, loaded)
			assert.Empty(t, loaded)
		})
	}
}

func TestLoadCorruptIsEmpty(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.Write(ctx, Key, []byte(`[{"id": "x", "status": `)))
			assert.Empty(t, load(t, NewStore(backend, 0, quietLogger())))
		})
	}
}

func TestLoadDropsNonCompletedEntries(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	doc := `[{"id":"a","status":"completed","created_at":"2026-01-01T00:00:00Z"},
	         {"id":"b","status":"failed","error":"x","created_at":"2026-01-02T00:00:00Z"}]`
	require.NoError(t, backend.Write(ctx, Key, []byte(doc)))

	loaded := load(t, NewStore(backend, 0, quietLogger()))
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)
}

func load(t *testing.T, s *Store) []models.Item {
	t.Helper()
	items, err := s.Load(context.Background())
	require.NoError(t, err)
	return items
}

func TestBackendFailuresAreContained(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend, 0, quietLogger())
	require.NoError(t, store.Persist(ctx, []models.Item{completedItem("a", base)}))

	backend.SetFail(errors.New("disk full"))
	loaded, err := store.Load(ctx)
	require.Error(t, err, "a failed read is not an empty history")
	assert.Nil(t, loaded)
	assert.Contains(t, err.Error(), "disk full")

	err = store.Persist(ctx, []models.Item{completedItem("b", base)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestClear(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(backend, 0, quietLogger())
			require.NoError(t, store.Persist(ctx, []models.Item{completedItem("a", base)}))
			require.NoError(t, store.Clear(ctx))
			assert.Empty(t, load(t, store))
			require.NoError(t, store.Clear(ctx), "clearing twice is fine")
		})
	}
}

func TestFileBackendLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, backend.Write(ctx, Key, []byte(fmt.Sprintf("[%d]", i))))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{".history.lock", Key + ".json"}, names)

	data, err := backend.Read(ctx, Key)
	require.NoError(t, err)
	assert.Equal(t, "[4]", string(data))
}

// TestPropertySnapshot verifies the snapshot is always completed-only, capped
// and ordered for any mix of items.
func TestPropertySnapshot(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 120).Draw(rt, "n")
		limit := rapid.IntRange(1, 60).Draw(rt, "limit")

		var items []models.Item
		completed := 0
		for i := range n {
			status := rapid.SampledFrom(models.AllStatuses()).Draw(rt, "status")
			offset := rapid.IntRange(0, 10_000).Draw(rt, "offset")
			item := completedItem(fmt.Sprintf("p%d", i), base.Add(time.Duration(offset)*time.Second))
			item.Status = status
			if status == models.StatusCompleted {
				completed++
			}
			items = append(items, item)
		}

		snap := Snapshot(items, limit)
		if len(snap) != min(completed, limit) {
			rt.Fatalf("snapshot has %d items, want %d", len(snap), min(completed, limit))
		}
		for i, item := range snap {
			if item.Status != models.StatusCompleted {
				rt.Fatalf("snapshot kept %s item", item.Status)
			}
			if i > 0 && item.CreatedAt.After(snap[i-1].CreatedAt) {
				rt.Fatalf("snapshot out of order at %d", i)
			}
		}
	})
}
