package executor

import (
	"context"
	"sort"
	"time"

	"github.com/Rizwan-Beg/fxharry/snapshot"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Symbols lists every symbol with a published book, sorted.
func (e *Executor) Symbols() []string {
	var out []string
	e.views.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// RestoreAll loads every snapshot in w. Call before Start.
func (e *Executor) RestoreAll(w *snapshot.Writer) (int, error) {
	syms, err := w.Symbols()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sym := range syms {
		s, ok, err := w.Load(sym)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := e.Restore(s); err != nil {
			return n, errors.Wrapf(err, "restore %s", sym)
		}
		n++
	}
	return n, nil
}

// SnapshotAll captures and writes every book once.
func (e *Executor) SnapshotAll(ctx context.Context, w *snapshot.Writer) error {
	for _, sym := range e.Symbols() {
		s, err := e.Capture(ctx, sym)
		if err != nil {
			return errors.Wrapf(err, "capture %s", sym)
		}
		if err := w.Write(s); err != nil {
			return err
		}
	}
	return nil
}

// StartSnapshotJob writes every book each interval until ctx ends, and
// once more on the way out.
func (e *Executor) StartSnapshotJob(ctx context.Context, w *snapshot.Writer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := e.SnapshotAll(ctx, w); err != nil {
					e.log.Warn("snapshot pass", zap.Error(err))
				}
			}
		}
	}()
}
