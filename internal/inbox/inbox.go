// Package inbox orchestrates submissions to the Ingestion Service.
//
// An Inbox normalizes the four input kinds into service requests, follows
// each accepted item through its own progress channel, and keeps completed
// results in a bounded durable history that is reloaded on the next start.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/hydra-inbox/internal/client"
	"github.com/raphaelgruber/hydra-inbox/internal/metrics"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
	"github.com/raphaelgruber/hydra-inbox/internal/registry"
)

// Sentinel errors for inbox operations.
var (
	ErrNotFound      = errors.New("item not found")
	ErrNotFailed     = errors.New("item has not failed")
	ErrClearResolved = errors.New("clear request already resolved")
)

// Ingestor is the request/response side of the Ingestion Service.
type Ingestor interface {
	SubmitFile(ctx context.Context, file client.FilePayload, topic string) (*models.Item, error)
	SubmitClipboardImage(ctx context.Context, imageBase64, topic string) (*models.Item, error)
	SubmitURL(ctx context.Context, rawURL, topic string) (*models.Item, error)
	SubmitText(ctx context.Context, text, title, topic string) (*models.Item, error)
	GetStatus(ctx context.Context, id string) (*models.Item, error)
}

// ProgressSource opens one progress channel per item id.
type ProgressSource interface {
	Subscribe(ctx context.Context, id string) (<-chan client.ProgressEvent, <-chan error, error)
}

// HistoryStore persists completed items across sessions.
type HistoryStore interface {
	Load(ctx context.Context) ([]models.Item, error)
	Persist(ctx context.Context, items []models.Item) error
	Clear(ctx context.Context) error
}

// Deps are the collaborators an Inbox needs.
type Deps struct {
	Ingestor Ingestor
	Progress ProgressSource
	History  HistoryStore
	Metrics  *metrics.Collector
	Logger   *slog.Logger

	// Now stamps created_at. Defaults to time.Now.
	Now func() time.Time
}

// Options tune Inbox behavior.
type Options struct {
	// StallTimeout fails a non-terminal item after this long without a
	// progress event. Zero disables it.
	StallTimeout time.Duration

	// OnUpdate and OnComplete observe every tracked item. Calls are
	// serialized across all items.
	OnUpdate   func(models.Item)
	OnComplete func(models.Item)
}

// Inbox is the submission orchestrator. Create one with New.
type Inbox struct {
	reg     *registry.Registry
	deps    Deps
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector

	root   context.Context
	cancel context.CancelFunc

	startOnce sync.Once

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup

	// persistMu orders snapshot+write pairs so an older snapshot never
	// lands after a newer one.
	persistMu sync.Mutex
	// historyLoaded is false until the stored history has been read once.
	// Writes are held back while it is false. Guarded by persistMu.
	historyLoaded bool

	notifyMu sync.Mutex
}

// New creates an Inbox. Call Start before serving submissions; submit
// methods call it implicitly if needed.
func New(deps Deps, opts Options) *Inbox {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	root, cancel := context.WithCancel(context.Background())
	return &Inbox{
		reg:     registry.New(),
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		root:    root,
		cancel:  cancel,
		subs:    make(map[string]*subscription),
	}
}

// Start loads history into the registry. Only the first call does anything.
// If the history cannot be read, persisting is paused and retried on the
// next mutation so the stored entry is never replaced unseen.
func (in *Inbox) Start(ctx context.Context) {
	in.startOnce.Do(func() {
		in.persistMu.Lock()
		defer in.persistMu.Unlock()

		n, err := in.loadHistory(ctx)
		if err != nil {
			in.logger.Warn("history unavailable, persisting paused", "error", err)
		}
		in.logger.Info("inbox started", "history_items", n)
	})
}

// loadHistory adds stored items the registry does not track yet. The caller
// holds persistMu.
func (in *Inbox) loadHistory(ctx context.Context) (int, error) {
	items, err := in.deps.History.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, ok := in.reg.Get(item.ID); !ok {
			in.reg.Add(item)
		}
	}
	in.historyLoaded = true
	return len(items), nil
}

// Close stops every subscription and waits for them to exit.
func (in *Inbox) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	in.mu.Unlock()

	in.cancel()
	in.wg.Wait()
	in.logger.Debug("inbox closed")
}

// Items returns all tracked items, most recent first.
func (in *Inbox) Items() []models.Item {
	return in.reg.Items()
}

// Get returns the tracked item with id.
func (in *Inbox) Get(id string) (models.Item, bool) {
	return in.reg.Get(id)
}

// Stats returns collected timings and counters.
func (in *Inbox) Stats() metrics.Snapshot {
	return in.metrics.Snapshot()
}

// Pending returns the number of items still being tracked.
func (in *Inbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.subs)
}

// persist writes the history snapshot. Failures are logged by the store and
// never reach the caller.
func (in *Inbox) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	in.persistMu.Lock()
	defer in.persistMu.Unlock()

	if !in.historyLoaded {
		n, err := in.loadHistory(ctx)
		if err != nil {
			in.logger.Debug("history persist skipped, stored entry unread", "error", err)
			return
		}
		in.logger.Info("history recovered", "history_items", n)
	}

	items := in.reg.Items()
	if err := in.metrics.Time(metrics.OpPersist, func() error {
		return in.deps.History.Persist(ctx, items)
	}); err != nil {
		in.logger.Debug("history persist skipped", "error", err)
	}
}

func (in *Inbox) notify(fn func(models.Item), item models.Item) {
	if fn == nil {
		return
	}
	in.notifyMu.Lock()
	defer in.notifyMu.Unlock()
	fn(item)
}
