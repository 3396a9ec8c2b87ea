// Package outbox is a durable queue of outbound events kept in pebble.
// Workers append envelopes; the broadcaster ships them to Kafka and marks
// them acknowledged. Entries survive a crash until acknowledged.
package outbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one queued envelope.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const (
	prefix    = "evt/"
	headerLen = 1 + 4 + 8
)

// [state:1][retries:4][lastAttempt:8][payload]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, headerLen+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[headerLen:], e.Payload)
	return buf
}

func decodeEntry(seq uint64, b []byte) (Entry, error) {
	if len(b) < headerLen {
		return Entry{}, errors.Newf("outbox entry %d: %d bytes", seq, len(b))
	}
	return Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[headerLen:]...),
	}, nil
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(prefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b[len(prefix):]), "%d", &seq)
	return seq, errors.Wrapf(err, "outbox key %q", b)
}

type Outbox struct {
	db  *pebble.DB
	log *zap.Logger
	now func() int64

	mu  sync.Mutex
	seq uint64
}

type Option func(*Outbox)

func WithLogger(l *zap.Logger) Option {
	return func(o *Outbox) { o.log = l }
}

// WithClock sets the time stamped on delivery attempts.
func WithClock(now func() int64) Option {
	return func(o *Outbox) { o.now = now }
}

func Open(dir string, opts ...Option) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	o := &Outbox{db: db, log: zap.NewNop(), now: func() int64 { return 0 }}
	for _, opt := range opts {
		opt(o)
	}
	if o.seq, err = o.lastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	o.log.Info("outbox opened", zap.String("dir", dir), zap.Uint64("last_seq", o.seq))
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) iter() (*pebble.Iterator, error) {
	return o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
}

func (o *Outbox) lastSeq() (uint64, error) {
	it, err := o.iter()
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if !it.Last() {
		return 0, it.Error()
	}
	return parseKey(it.Key())
}

// Append queues payload and returns its sequence number.
func (o *Outbox) Append(payload []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.seq + 1
	if err := o.db.Set(keyFor(seq), encodeEntry(Entry{State: StateNew, Payload: payload}), pebble.Sync); err != nil {
		return 0, errors.Wrapf(err, "append outbox %d", seq)
	}
	o.seq = seq
	return seq, nil
}

func (o *Outbox) PublishFill(_ context.Context, f matching.Fill) error {
	return o.appendEnvelope(events.FillEnvelope(f))
}

func (o *Outbox) PublishTransition(_ context.Context, t events.Transition) error {
	return o.appendEnvelope(events.TransitionEnvelope(t))
}

func (o *Outbox) appendEnvelope(env events.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	_, err = o.Append(b)
	return err
}

func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "outbox entry %d", seq)
	}
	defer closer.Close()
	return decodeEntry(seq, val)
}

func (o *Outbox) setState(seq uint64, st State, bumpRetry bool) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = st
	e.LastAttempt = o.now()
	if bumpRetry {
		e.Retries++
	}
	return o.db.Set(keyFor(seq), encodeEntry(e), pebble.Sync)
}

func (o *Outbox) MarkSent(seq uint64) error   { return o.setState(seq, StateSent, false) }
func (o *Outbox) MarkAcked(seq uint64) error  { return o.setState(seq, StateAcked, false) }
func (o *Outbox) MarkFailed(seq uint64) error { return o.setState(seq, StateFailed, true) }

// ScanPending visits, in sequence order, every entry not yet
// acknowledged. Sent entries are included: a crash between send and ack
// means they may not have arrived.
func (o *Outbox) ScanPending(fn func(Entry) error) error {
	it, err := o.iter()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		seq, err := parseKey(it.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(seq, it.Value())
		if err != nil {
			return err
		}
		if e.State == StateAcked {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return it.Error()
}

// Prune deletes acknowledged entries and reports how many it removed.
func (o *Outbox) Prune() (int, error) {
	it, err := o.iter()
	if err != nil {
		return 0, err
	}
	b := o.db.NewBatch()
	defer b.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		if v := it.Value(); len(v) > 0 && State(v[0]) == StateAcked {
			if err := b.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
				_ = it.Close()
				return 0, err
			}
			n++
		}
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, errors.Wrap(b.Commit(pebble.Sync), "prune outbox")
}
