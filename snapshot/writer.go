package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

type Writer struct {
	Dir string
}

func (w *Writer) path(symbol string) string {
	return filepath.Join(w.Dir, symbol+".snap")
}

// Write stores s atomically: a crash leaves either the old or the new
// snapshot, never a torn one.
func (w *Writer) Write(s Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "snapshot dir")
	}

	tmp, err := os.CreateTemp(w.Dir, s.Symbol+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "snapshot temp")
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&s); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "encode snapshot %s", s.Symbol)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), w.path(s.Symbol)), "publish snapshot")
}

// Symbols lists the symbols with a stored snapshot. A missing directory
// means none.
func (w *Writer) Symbols() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.Dir, "*.snap"))
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".snap"))
	}
	sort.Strings(out)
	return out, nil
}
