package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/hydra-inbox/internal/client"
	"github.com/raphaelgruber/hydra-inbox/internal/metrics"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// Handlers observe a single subscription, in addition to the Inbox-wide
// observers in Options.
type Handlers struct {
	OnUpdate   func(models.Item)
	OnComplete func(models.Item)
}

type subscription struct {
	id       string
	handlers []Handlers
	cancel   context.CancelFunc
}

// Subscribe follows id's progress channel until the item is terminal, the
// returned function is called, or the Inbox is closed. A second Subscribe
// for an id that is already followed attaches h to the existing
// subscription instead of opening another channel.
func (in *Inbox) Subscribe(id string, h Handlers) (unsubscribe func()) {
	in.mu.Lock()
	defer in.mu.Unlock()

	stop := func() { in.unsubscribe(id) }
	if in.closed {
		return func() {}
	}
	if sub, ok := in.subs[id]; ok {
		sub.handlers = append(sub.handlers, h)
		return stop
	}

	ctx, cancel := context.WithCancel(in.root)
	sub := &subscription{id: id, handlers: []Handlers{h}, cancel: cancel}
	in.subs[id] = sub

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer in.release(sub)
		in.follow(ctx, sub)
	}()
	return stop
}

func (in *Inbox) unsubscribe(id string) {
	in.mu.Lock()
	sub, ok := in.subs[id]
	if ok {
		delete(in.subs, id)
	}
	in.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// release drops sub from the table if it is still the current one.
func (in *Inbox) release(sub *subscription) {
	in.mu.Lock()
	if in.subs[sub.id] == sub {
		delete(in.subs, sub.id)
	}
	in.mu.Unlock()
	sub.cancel()
}

func (in *Inbox) cancelAll() {
	in.mu.Lock()
	subs := in.subs
	in.subs = make(map[string]*subscription)
	in.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

func (in *Inbox) follow(ctx context.Context, sub *subscription) {
	logger := in.logger.With("id", sub.id)

	events, errs, err := in.deps.Progress.Subscribe(ctx, sub.id)
	if err != nil {
		in.channelLost(ctx, sub, err)
		return
	}

	var (
		stall  *time.Timer
		stallC <-chan time.Time
	)
	if d := in.opts.StallTimeout; d > 0 {
		stall = time.NewTimer(d)
		defer stall.Stop()
		stallC = stall.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				var cause error
				select {
				case cause = <-errs:
				default:
				}
				in.channelLost(ctx, sub, cause)
				return
			}
			if stall != nil {
				stall.Reset(in.opts.StallTimeout)
			}
			if done := in.applyEvent(ctx, sub, ev); done {
				logger.Debug("subscription finished")
				return
			}

		case <-stallC:
			in.fail(ctx, sub, fmt.Sprintf("stalled: no progress for %s", in.opts.StallTimeout))
			return
		}
	}
}

// applyEvent merges ev and reports whether the subscription is done.
func (in *Inbox) applyEvent(ctx context.Context, sub *subscription, ev client.ProgressEvent) bool {
	before, ok := in.reg.Get(sub.id)
	if !ok || before.IsTerminal() {
		return true
	}

	u := models.ProgressUpdate(ev.ProgressEvent)
	if ev.Status == models.StatusFailed {
		msg := ev.Error
		if msg == "" {
			msg = "pipeline failed"
		}
		u = models.FailureUpdate(msg)
	}

	item, ok := in.reg.Merge(sub.id, u)
	if !ok || ctx.Err() != nil {
		return true
	}
	in.persist(ctx)
	in.emitUpdate(sub, item)

	switch item.Status {
	case models.StatusCompleted:
		in.complete(ctx, sub)
		return true
	case models.StatusFailed:
		in.metrics.Inc(metrics.CountFailed)
		in.logger.Warn("item failed", "id", sub.id, "error", item.Error)
		return true
	}
	return false
}

// complete runs the single full-record fetch that follows completion.
func (in *Inbox) complete(ctx context.Context, sub *subscription) {
	in.metrics.Inc(metrics.CountCompleted)

	full, err := in.fetch(ctx, sub.id)
	if err != nil {
		in.logger.Warn("full record fetch failed", "id", sub.id, "error", err)
	} else if ctx.Err() == nil {
		if item, ok := in.reg.Merge(sub.id, models.ResultUpdate(*full)); ok {
			in.persist(ctx)
			in.emitUpdate(sub, item)
		}
	}

	if ctx.Err() != nil {
		return
	}
	item, ok := in.reg.Get(sub.id)
	if !ok {
		return
	}
	in.logger.Info("item completed", "id", sub.id, "title", item.Title)
	in.emitComplete(sub, item)
}

// channelLost reconciles with the service once before giving up on an item
// whose progress channel closed early.
func (in *Inbox) channelLost(ctx context.Context, sub *subscription, cause error) {
	if ctx.Err() != nil {
		return
	}
	current, ok := in.reg.Get(sub.id)
	if !ok || current.IsTerminal() {
		return
	}
	in.logger.Warn("progress channel lost", "id", sub.id, "error", cause)

	full, err := in.fetch(ctx, sub.id)
	if ctx.Err() != nil {
		return
	}
	if err == nil && full.Status.IsTerminal() {
		if full.Status == models.StatusFailed {
			in.fail(ctx, sub, firstNonEmpty(full.Error, "pipeline failed"))
			return
		}
		item, ok := in.reg.Merge(sub.id, models.ResultUpdate(*full))
		if !ok {
			return
		}
		in.metrics.Inc(metrics.CountCompleted)
		in.persist(ctx)
		in.emitUpdate(sub, item)
		in.logger.Info("item completed", "id", sub.id, "title", item.Title, "reconciled", true)
		in.emitComplete(sub, item)
		return
	}

	msg := "progress channel lost"
	switch {
	case cause != nil:
		msg += ": " + cause.Error()
	case err != nil:
		msg += ": " + err.Error()
	}
	in.fail(ctx, sub, msg)
}

func (in *Inbox) fail(ctx context.Context, sub *subscription, msg string) {
	if before, ok := in.reg.Get(sub.id); !ok || before.IsTerminal() {
		return
	}
	item, ok := in.reg.Merge(sub.id, models.FailureUpdate(msg))
	if !ok {
		return
	}
	in.metrics.Inc(metrics.CountFailed)
	in.logger.Warn("item failed", "id", sub.id, "error", msg)
	in.persist(ctx)
	in.emitUpdate(sub, item)
}

func (in *Inbox) fetch(ctx context.Context, id string) (*models.Item, error) {
	var full *models.Item
	err := in.metrics.Time(metrics.OpStatusFetch, func() error {
		var err error
		full, err = in.deps.Ingestor.GetStatus(ctx, id)
		return err
	})
	return full, err
}

func (in *Inbox) handlersOf(sub *subscription) []Handlers {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Handlers(nil), sub.handlers...)
}

func (in *Inbox) emitUpdate(sub *subscription, item models.Item) {
	in.notify(in.opts.OnUpdate, item)
	for _, h := range in.handlersOf(sub) {
		in.notify(h.OnUpdate, item)
	}
}

func (in *Inbox) emitComplete(sub *subscription, item models.Item) {
	in.notify(in.opts.OnComplete, item)
	for _, h := range in.handlersOf(sub) {
		in.notify(h.OnComplete, item)
	}
}
