package inbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// Retry discards a failed item so the user can resubmit it. The original
// payload is not kept, so nothing is resent.
func (in *Inbox) Retry(ctx context.Context, id string) error {
	item, ok := in.reg.Get(id)
	if !ok {
		return fmt.Errorf("retry %s: %w", id, ErrNotFound)
	}
	if item.Status != models.StatusFailed {
		return fmt.Errorf("retry %s (%s): %w", id, item.Status, ErrNotFailed)
	}
	return in.Remove(ctx, id)
}

// Remove stops tracking id in any state and drops it from history.
func (in *Inbox) Remove(ctx context.Context, id string) error {
	in.unsubscribe(id)
	if !in.reg.Remove(id) {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	in.logger.Info("item removed", "id", id)
	in.persist(ctx)
	return nil
}

// ClearRequest is a pending "clear all" awaiting confirmation. It resolves
// exactly once.
type ClearRequest struct {
	in       *Inbox
	mu       sync.Mutex
	resolved bool
}

// RequestClear starts the clear flow. Nothing changes until Confirm.
func (in *Inbox) RequestClear() *ClearRequest {
	return &ClearRequest{in: in}
}

func (r *ClearRequest) resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return ErrClearResolved
	}
	r.resolved = true
	return nil
}

// Confirm drops every item, stops every subscription, and deletes the
// durable history. A failed delete is returned but the in-memory state is
// cleared regardless.
func (r *ClearRequest) Confirm(ctx context.Context) error {
	if err := r.resolve(); err != nil {
		return err
	}
	in := r.in

	in.persistMu.Lock()
	defer in.persistMu.Unlock()

	in.cancelAll()
	n := in.reg.Len()
	in.reg.Clear()
	in.logger.Info("inbox cleared", "items", n)

	if err := in.deps.History.Clear(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	// The stored entry is gone, so there is nothing left to overwrite unseen.
	in.historyLoaded = true
	return nil
}

// Cancel abandons the request without changing anything.
func (r *ClearRequest) Cancel() error {
	return r.resolve()
}
