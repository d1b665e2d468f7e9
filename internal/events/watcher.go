package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Handler performs the side effect of one event (post a comment, notify a
// chat room). It may be invoked again for the same event if it failed.
type Handler func(ctx context.Context, e Event) error

// Watcher delivers events to a Handler at most once per event id, given an
// at-least-once source.
type Watcher struct {
	dedupe Deduper
	handle Handler
	logger *zap.Logger
}

func NewWatcher(dedupe Deduper, handle Handler, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dedupe: dedupe, handle: handle, logger: logger}
}

// Deliver runs the handler unless e was already handled. It reports whether
// the handler ran.
func (w *Watcher) Deliver(ctx context.Context, e Event) (bool, error) {
	fresh, err := w.dedupe.Claim(ctx, e.ID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", e.ID, err)
	}
	if !fresh {
		return false, nil
	}
	if err := w.handle(ctx, e); err != nil {
		if rerr := w.dedupe.Release(ctx, e.ID); rerr != nil {
			w.logger.Warn("release claim", zap.String("event_id", e.ID), zap.Error(rerr))
		}
		return false, err
	}
	return true, nil
}

// Run delivers events from in until it closes or ctx ends. Handler errors
// are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, in <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := w.Deliver(ctx, e); err != nil {
				w.logger.Error("deliver event", zap.String("event_id", e.ID), zap.String("type", string(e.Type)), zap.Error(err))
			}
		}
	}
}
