package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/hydra-inbox/internal/config"
	"github.com/raphaelgruber/hydra-inbox/internal/history"
	"github.com/raphaelgruber/hydra-inbox/internal/inbox"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

type fakeTracker struct {
	mu      sync.Mutex
	items   map[string]models.Item
	retried []string
}

func newFakeTracker(items ...models.Item) *fakeTracker {
	f := &fakeTracker{items: make(map[string]models.Item)}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeTracker) Get(id string) (models.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	return item, ok
}

func (f *fakeTracker) set(item models.Item) {
	f.mu.Lock()
	f.items[item.ID] = item
	f.mu.Unlock()
}

func (f *fakeTracker) Retry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items[id].Status != models.StatusFailed {
		return inbox.ErrNotFailed
	}
	delete(f.items, id)
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeTracker) RequestClear() *inbox.ClearRequest { return nil }

func key(s string) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: rune(s[0]), Text: s}
}

func quietInbox(t *testing.T) *inbox.Inbox {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	in := inbox.New(inbox.Deps{
		History: history.NewStore(history.NewMemoryBackend(), history.DefaultLimit, logger),
		Logger:  logger,
	}, inbox.Options{})
	in.Start(context.Background())
	t.Cleanup(in.Close)
	return in
}

func TestWatchQuitsWhenSettled(t *testing.T) {
	src := newFakeTracker(
		models.Item{ID: "a", Status: models.StatusAnalyzing, Progress: 40, Title: "Design doc"},
		models.Item{ID: "b", Status: models.StatusCompleted, Progress: 100, Filename: "notes.txt"},
	)
	m := newWatchModel(context.Background(), src, []string{"a", "b"})
	assert.False(t, m.settled())
	assert.Contains(t, m.renderContent(), "Design doc")
	assert.Contains(t, m.renderContent(), "40%")

	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(watchModel)
	assert.False(t, m.done)
	assert.NotNil(t, cmd, "keeps ticking")

	src.set(models.Item{ID: "a", Status: models.StatusCompleted, Progress: 100, Title: "Design doc", Summary: "A plan."})
	next, _ = m.Update(tickMsg(time.Now()))
	m = next.(watchModel)
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(), "A plan.")

	items := m.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID, "submission order is kept")
}

func TestWatchDismissFailed(t *testing.T) {
	src := newFakeTracker(
		models.Item{ID: "ok", Status: models.StatusStoring, Progress: 90},
		models.Item{ID: "bad", Status: models.StatusFailed, Error: "unsupported document"},
	)
	m := newWatchModel(context.Background(), src, []string{"ok", "bad"})
	assert.Contains(t, m.renderContent(), "unsupported document")

	next, _ := m.Update(key("x"))
	m = next.(watchModel)
	assert.Equal(t, []string{"bad"}, src.retried)
	assert.Len(t, m.Items(), 1)
	assert.Contains(t, m.notice, "dismissed 1")
}

func TestWatchQuitKey(t *testing.T) {
	src := newFakeTracker(models.Item{ID: "a", Status: models.StatusPending})
	m := newWatchModel(context.Background(), src, []string{"a"})

	next, _ := m.Update(key("q"))
	m = next.(watchModel)
	assert.True(t, m.quitting)
	assert.Contains(t, m.renderContent(), "Stopped watching")
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeTracker(models.Item{ID: "a", Status: models.StatusPending})
	m := newWatchModel(ctx, src, []string{"a"})
	cancel()

	next, _ := m.Update(tickMsg(time.Now()))
	assert.True(t, next.(watchModel).quitting)
}

func TestWatchClearGate(t *testing.T) {
	in := quietInbox(t)
	a := in.SubmitText(context.Background(), "", "first", inbox.SubmitOptions{})
	b := in.SubmitURL(context.Background(), "not a url", inbox.SubmitOptions{})

	m := newWatchModel(context.Background(), in, []string{a.ID, b.ID})

	next, _ := m.Update(key("c"))
	m = next.(watchModel)
	require.NotNil(t, m.clear)
	assert.Contains(t, m.renderContent(), "Clear all items and history?")

	next, _ = m.Update(key("n"))
	m = next.(watchModel)
	assert.Nil(t, m.clear)
	assert.Len(t, in.Items(), 2)

	next, _ = m.Update(key("c"))
	m = next.(watchModel)
	next, _ = m.Update(key("y"))
	m = next.(watchModel)
	assert.Empty(t, in.Items())
	assert.Empty(t, m.Items())
	assert.True(t, m.done)
	assert.Equal(t, "inbox cleared", m.notice)
}

func TestWaitTerminal(t *testing.T) {
	src := newFakeTracker(models.Item{ID: "a", Status: models.StatusProcessing})
	go func() {
		time.Sleep(50 * time.Millisecond)
		src.set(models.Item{ID: "a", Status: models.StatusFailed, Error: "boom"})
	}()

	items := waitTerminal(context.Background(), src, []string{"a"})
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
}

func TestStatusStyleCoversEveryStatus(t *testing.T) {
	for _, s := range models.AllStatuses() {
		style := defaultTheme.statusStyle(s)
		assert.NotEmpty(t, style.Render(s.Label()), s)
	}
}

func TestWriteList(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	items := []models.Item{
		{ID: "srv-1", Status: models.StatusCompleted, ContentType: models.ContentPDF, Filename: "report.pdf", CreatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, writeList(&buf, items, false))
	out := buf.String()
	assert.Contains(t, out, "srv-1")
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "Completed")

	buf.Reset()
	require.NoError(t, writeList(&buf, items, true))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded[0]["status"])
	assert.Equal(t, "report.pdf", decoded[0]["filename"])

	buf.Reset()
	require.NoError(t, writeList(&buf, nil, false))
	assert.Equal(t, "No items.\n", buf.String())
}

func TestWriteHistoryFooter(t *testing.T) {
	var buf bytes.Buffer
	writeHistoryFooter(&buf, history.NewStore(history.NewMemoryBackend(), 0, nil).Limit())
	assert.Contains(t, buf.String(), "History keeps the 50 most recent completed items.")

	buf.Reset()
	writeHistoryFooter(&buf, 0)
	assert.Empty(t, buf.String())
}

func TestWriteItem(t *testing.T) {
	var buf bytes.Buffer
	writeItem(&buf, models.Item{
		ID:               "srv-2",
		Source:           models.SourceURL,
		ContentType:      models.ContentURL,
		Status:           models.StatusCompleted,
		Progress:         100,
		URL:              "https://go.dev/blog",
		Summary:          "Go blog index.",
		KeyInsights:      []string{"one", "two"},
		Tags:             []string{"go", "blog"},
		RelevanceToHydra: "Language updates.",
	})
	out := buf.String()
	assert.Contains(t, out, "Key insights (2):")
	assert.Contains(t, out, "Tags: go, blog")
	assert.Contains(t, out, "Relevance to Hydra:")
	assert.NotContains(t, out, "Action items")
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	ok, err := confirm(strings.NewReader("yes\n"), &out, "Clear? ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Clear? ", out.String())

	ok, err = confirm(strings.NewReader(""), &out, "Clear? ")
	require.NoError(t, err)
	assert.False(t, ok, "EOF means no")
}

func TestPrintUpdate(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })

	printUpdate(models.Item{ID: "local-0a1b2c3d4e5f", Status: models.StatusFailed, Error: "text is empty", Title: "Notes"})
	line := buf.String()
	assert.Contains(t, line, "local-0a1b2c3d4e5f")
	assert.Contains(t, line, "Notes - text is empty")
}

func TestOpenBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	for _, name := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Config{HistoryBackend: name, DataDir: t.TempDir()}
			backend, closeFn, err := openBackend(ctx, cfg, logger)
			require.NoError(t, err)
			defer func() { require.NoError(t, closeFn()) }()

			require.NoError(t, backend.Write(ctx, history.Key, []byte("[]")))
			data, err := backend.Read(ctx, history.Key)
			require.NoError(t, err)
			assert.Equal(t, "[]", string(data))
		})
	}

	_, _, err := openBackend(ctx, config.Config{HistoryBackend: "floppy"}, logger)
	assert.Error(t, err)
}
