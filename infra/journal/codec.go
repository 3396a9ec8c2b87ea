package journal

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

var ErrCorrupt = errors.New("journal: corrupt record")

// Frame:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
func encode(dst []byte, r *Record) []byte {
	n := headerSize + len(r.Data) + 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	buf := dst[:n]

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], uint32(len(r.Data)))
	copy(buf[headerSize:], r.Data)

	crc := checksum(buf[:headerSize+len(r.Data)])
	binary.BigEndian.PutUint32(buf[headerSize+len(r.Data):], crc)
	return buf
}

// Decoder reads frames from a stream. It returns io.EOF at a clean end
// and ErrCorrupt for a torn or damaged frame.
type Decoder struct {
	r      io.Reader
	header [headerSize]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) Next() (*Record, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrCorrupt, "short header")
		}
		return nil, err
	}

	l := binary.BigEndian.Uint32(d.header[17:21])
	body := make([]byte, int(l)+4)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short payload")
	}

	payload := body[:l]
	want := binary.BigEndian.Uint32(body[l:])

	h := crc32Update(d.header[:], payload)
	if h != want {
		return nil, errors.Wrapf(ErrCorrupt, "crc mismatch at seq %d", binary.BigEndian.Uint64(d.header[1:9]))
	}

	return &Record{
		Type: RecordType(d.header[0]),
		Seq:  binary.BigEndian.Uint64(d.header[1:9]),
		Time: int64(binary.BigEndian.Uint64(d.header[9:17])),
		Data: payload,
	}, nil
}

func crc32Update(header, payload []byte) uint32 {
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return checksum(buf)
}
