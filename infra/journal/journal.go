package journal

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

// Journal is an append-only, CRC-framed log split into size-bounded
// segment files. It is not safe for concurrent use.
type Journal struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	lastSeq  uint64
	buf      []byte
	log      *zap.Logger
}

// Open continues an existing journal in cfg.Dir after validating it, or
// starts a new one.
func Open(cfg Config, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "journal dir %s", cfg.Dir)
	}

	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	last, err := Replay(cfg.Dir, func(*Record) error { return nil })
	if err != nil {
		return nil, errors.Wrap(err, "validate journal")
	}

	next := 0
	if len(files) > 0 {
		next = segmentIndex(files[len(files)-1]) + 1
	}
	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	log.Info("journal opened",
		zap.String("dir", cfg.Dir),
		zap.Int("segments", len(files)),
		zap.Uint64("last_seq", last))

	return &Journal{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: next,
		lastSeq:  last,
		log:      log,
	}, nil
}

func (j *Journal) LastSeq() uint64 { return j.lastSeq }

// Append writes r. r.Seq must be greater than every sequence already
// written.
func (j *Journal) Append(r *Record) error {
	if r.Seq <= j.lastSeq {
		return errors.Newf("journal: seq %d not after %d", r.Seq, j.lastSeq)
	}
	j.buf = encode(j.buf, r)
	if err := j.current.append(j.buf); err != nil {
		return errors.Wrap(err, "journal append")
	}
	j.lastSeq = r.Seq

	if j.current.offset >= j.segSize {
		return j.rotate()
	}
	return nil
}

// Sync flushes buffered frames and fsyncs the current segment.
func (j *Journal) Sync() error {
	return errors.Wrap(j.current.sync(), "journal sync")
}

func (j *Journal) Close() error {
	return errors.Wrap(j.current.close(), "journal close")
}

func (j *Journal) rotate() error {
	if err := j.current.close(); err != nil {
		return errors.Wrap(err, "journal rotate")
	}
	j.segIndex++

	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	j.log.Debug("journal rotated", zap.Int("segment", j.segIndex))
	return nil
}

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in order. A sequence number that
// does not increase is reported as corruption.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return lastSeq, err
		}
		lastSeq, err = replayStream(f, lastSeq, fn)
		_ = f.Close()
		if err != nil {
			return lastSeq, errors.Wrapf(err, "replay %s", path)
		}
	}
	return lastSeq, nil
}

// ReplayReader replays frames from a single stream.
func ReplayReader(r io.Reader, fn ReplayHandler) (uint64, error) {
	return replayStream(r, 0, fn)
}

func replayStream(r io.Reader, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	dec := NewDecoder(r)
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return lastSeq, nil
		}
		if err != nil {
			return lastSeq, err
		}
		if rec.Seq <= lastSeq {
			return lastSeq, errors.Wrapf(ErrCorrupt, "non-monotonic seq %d after %d", rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq
		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

// TruncateBefore removes closed segments whose records are all <= seq.
func (j *Journal) TruncateBefore(seq uint64) error {
	files, err := segments(j.dir)
	if err != nil {
		return err
	}
	current := segmentPath(j.dir, j.segIndex)
	for _, path := range files {
		if path == current {
			continue
		}
		max, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if max <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	dec := NewDecoder(f)
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return max, nil
		}
		if err != nil {
			return max, err
		}
		if rec.Seq > max {
			max = rec.Seq
		}
	}
}
