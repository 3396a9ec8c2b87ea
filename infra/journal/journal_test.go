package journal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFill(seq uint64) matching.Fill {
	return matching.Fill{
		Seq: seq, Symbol: "EURUSD", OrderID: 10 + seq, CounterOrderID: 3,
		Side: orderbook.Sell, Price: 10_851, ExecPrice: 10_850, Qty: 4, Time: int64(seq) * 1000,
	}
}

func TestJournalAppendReplay(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 128}, nil)
	require.NoError(t, err)

	log := NewFillLog(j)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, log.Append(sampleFill(i)))
	}
	require.NoError(t, j.Close())

	files, err := segments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "small segment size should rotate")

	var got []matching.Fill
	last, err := Replay(dir, func(r *Record) error {
		f, err := DecodeFill(r)
		got = append(got, f)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)
	require.Len(t, got, 10)
	assert.Equal(t, sampleFill(7), got[6])
}

func TestJournalReopenContinues(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, NewFillLog(j).Append(sampleFill(1)))
	require.NoError(t, j.Close())

	j, err = Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), j.LastSeq())
	require.NoError(t, NewFillLog(j).Append(sampleFill(2)))
	require.Error(t, j.Append(&Record{Type: RecordMarker, Seq: 2}))
	require.NoError(t, j.Close())

	last, err := Replay(dir, func(*Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, NewFillLog(j).Append(sampleFill(1)))
	require.NoError(t, j.Close())

	path := filepath.Join(dir, "segment-000000.log")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[headerSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Replay(dir, func(*Record) error { return nil })
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestStreamMatchesJournalBytes(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	stream := NewStreamFillLog(&buf)
	file := NewFillLog(j)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, stream.Append(sampleFill(i)))
		require.NoError(t, file.Append(sampleFill(i)))
	}
	require.NoError(t, stream.Flush())
	require.NoError(t, j.Close())

	onDisk, err := os.ReadFile(filepath.Join(dir, "segment-000000.log"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, buf.Bytes())

	fills, err := ReadFills(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, fills, 3)
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 1}, nil)
	require.NoError(t, err)
	log := NewFillLog(j)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, log.Append(sampleFill(i)))
	}
	require.NoError(t, j.TruncateBefore(2))
	require.NoError(t, j.Close())

	var seqs []uint64
	_, err = Replay(dir, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, seqs)
}

func TestSinkConcurrentFills(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	sink := NewSink(j)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, sink.PublishFill(context.Background(), sampleFill(uint64(g*100+i))))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, sink.Flush())
	require.NoError(t, j.Close())

	n := 0
	last, err := Replay(dir, func(*Record) error { n++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, uint64(100), last)
}
