package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/store"
	"github.com/lucho00cuba/fimwatch/internal/watcher"
)

// RunRealtime starts the watcher and processes its event stream until ctx
// is canceled or Stop is called. A failure to create or start the watcher
// is returned as an error. Errors the notification backend reports once
// the watcher is running are logged by the watcher and do not end the
// session.
func (e *Engine) RunRealtime(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: a scan is already running")
	}
	defer e.running.Store(false)

	w, err := watcher.New(e.cfg.WatchConfig, e.log)
	if err != nil {
		return fmt.Errorf("engine: create watcher: %w", err)
	}
	e.watch = w

	if err := w.Start(); err != nil {
		return fmt.Errorf("engine: start watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	batcher := watcher.NewBatcher(64, 500*time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if batcher.Add(ev) {
				if err := e.processBatch(ctx, batcher.Flush()); err != nil {
					return fmt.Errorf("engine: process realtime batch: %w", err)
				}
			}
		case <-time.After(10 * time.Millisecond):
			if batcher.Len() > 0 {
				if err := e.processBatch(ctx, batcher.Flush()); err != nil {
					return fmt.Errorf("engine: process realtime batch: %w", err)
				}
			}
		}
	}
}

// Stop signals a running RunRealtime loop to stop. Safe to call even if no
// realtime session is active.
func (e *Engine) Stop() {
	if e.watch != nil {
		_ = e.watch.Stop()
	}
}

func (e *Engine) processBatch(ctx context.Context, events []watcher.Event) error {
	if len(events) == 0 {
		return nil
	}

	if err := e.st.Begin(ctx); err != nil {
		return err
	}

	for _, ev := range events {
		switch ev.Kind {
		case watcher.Deleted, watcher.MovedFrom:
			old, err := e.st.GetByPath(ctx, ev.Path)
			if err != nil {
				if err == store.ErrNotFound {
					continue
				}
				_ = e.st.Rollback()
				return err
			}
			if err := e.st.DeletePath(ctx, ev.Path); err != nil {
				_ = e.st.Rollback()
				return err
			}
			oldCopy := old.Fingerprint
			rec := ChangeRecord{Path: ev.Path, Kind: Deleted, Old: &oldCopy, DetectedAt: ev.Timestamp}
			e.dispatch(rec)
		case watcher.Unknown:
			continue
		default:
			o := e.scanOne(ctx, ev.Path, true)
			if o.err != nil {
				e.log.Warn("realtime hash error", "path", ev.Path, "error", o.err)
				continue
			}
			if o.rec != nil {
				e.dispatch(*o.rec)
			}
		}
	}

	return e.st.Commit()
}
