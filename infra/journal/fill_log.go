package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
)

// EncodeFill is the fixed binary payload of a fill record:
// [seq:8][order:8][counter:8][side:1][price:8][exec:8][qty:8][symlen:2][symbol]
// Time travels in the frame header.
func EncodeFill(dst []byte, f matching.Fill) []byte {
	dst = binary.BigEndian.AppendUint64(dst, f.Seq)
	dst = binary.BigEndian.AppendUint64(dst, f.OrderID)
	dst = binary.BigEndian.AppendUint64(dst, f.CounterOrderID)
	dst = append(dst, byte(f.Side))
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Price))
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.ExecPrice))
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Qty))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(f.Symbol)))
	return append(dst, f.Symbol...)
}

const fillFixed = 8*3 + 1 + 8*3 + 2

func DecodeFill(r *Record) (matching.Fill, error) {
	b := r.Data
	if r.Type != RecordFill || len(b) < fillFixed {
		return matching.Fill{}, errors.Wrapf(ErrCorrupt, "not a fill record (type %d, %d bytes)", r.Type, len(b))
	}
	n := int(binary.BigEndian.Uint16(b[49:51]))
	if len(b) != fillFixed+n {
		return matching.Fill{}, errors.Wrap(ErrCorrupt, "fill symbol length")
	}
	return matching.Fill{
		Seq:            binary.BigEndian.Uint64(b[0:8]),
		OrderID:        binary.BigEndian.Uint64(b[8:16]),
		CounterOrderID: binary.BigEndian.Uint64(b[16:24]),
		Side:           orderbook.Side(b[24]),
		Price:          int64(binary.BigEndian.Uint64(b[25:33])),
		ExecPrice:      int64(binary.BigEndian.Uint64(b[33:41])),
		Qty:            int64(binary.BigEndian.Uint64(b[41:49])),
		Symbol:         string(b[51:]),
		Time:           r.Time,
	}, nil
}

// FillLog appends fills to a Journal. Record sequence numbers are
// assigned by the log, so output depends only on the fills written.
type FillLog struct {
	j       *Journal
	payload []byte
}

func NewFillLog(j *Journal) *FillLog {
	return &FillLog{j: j}
}

func (l *FillLog) Append(f matching.Fill) error {
	l.payload = EncodeFill(l.payload[:0], f)
	return l.j.Append(&Record{
		Type: RecordFill,
		Seq:  l.j.LastSeq() + 1,
		Time: f.Time,
		Data: l.payload,
	})
}

func (l *FillLog) Flush() error {
	return l.j.Sync()
}

// StreamFillLog writes the same frames to any io.Writer.
type StreamFillLog struct {
	w       *bufio.Writer
	seq     uint64
	payload []byte
	frame   []byte
}

func NewStreamFillLog(w io.Writer) *StreamFillLog {
	return &StreamFillLog{w: bufio.NewWriter(w)}
}

func (l *StreamFillLog) Append(f matching.Fill) error {
	l.seq++
	l.payload = EncodeFill(l.payload[:0], f)
	l.frame = encode(l.frame, &Record{Type: RecordFill, Seq: l.seq, Time: f.Time, Data: l.payload})
	_, err := l.w.Write(l.frame)
	return errors.Wrap(err, "fill log write")
}

func (l *StreamFillLog) Flush() error {
	return errors.Wrap(l.w.Flush(), "fill log flush")
}

// ReadFills decodes every fill in a stream written by either log.
func ReadFills(r io.Reader) ([]matching.Fill, error) {
	var out []matching.Fill
	_, err := ReplayReader(r, func(rec *Record) error {
		f, err := DecodeFill(rec)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// Sink journals the fills of concurrent producers. Transitions are not
// journalled.
type Sink struct {
	mu  sync.Mutex
	log *FillLog
}

func NewSink(j *Journal) *Sink {
	return &Sink{log: NewFillLog(j)}
}

func (s *Sink) PublishFill(_ context.Context, f matching.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Append(f)
}

func (s *Sink) PublishTransition(context.Context, events.Transition) error { return nil }

func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Flush()
}
