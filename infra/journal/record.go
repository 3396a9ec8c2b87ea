package journal

type RecordType uint8

const (
	RecordFill RecordType = iota + 1
	RecordMarker
)

// Record is one framed journal entry. Time is whatever clock the writer
// stamps with; the fill log uses virtual time only.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

const headerSize = 1 + 8 + 8 + 4
