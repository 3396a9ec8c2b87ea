package memory

import (
	"runtime"
	"sync/atomic"
)

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded lock-free MPSC queue (Vyukov). Any number of
// goroutines may Enqueue; exactly one may Dequeue.
type Ring[T any] struct {
	head  atomic.Uint64
	_pad1 [56]byte
	tail  atomic.Uint64
	_pad2 [56]byte
	cells []cell[T]
	mask  uint64
}

func NewRing[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("memory.Ring size must be power of two")
	}
	r := &Ring[T]{
		cells: make([]cell[T], size),
		mask:  size - 1,
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// Enqueue returns false when the ring is full. It never blocks.
func (r *Ring[T]) Enqueue(v T) bool {
	for {
		pos := r.head.Load()
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			// another producer claimed pos
			runtime.Gosched()
		}
	}
}

// Dequeue pops the oldest element. Single consumer only.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	pos := r.tail.Load()
	c := &r.cells[pos&r.mask]
	if c.seq.Load() != pos+1 {
		return zero, false
	}
	v := c.val
	c.val = zero
	c.seq.Store(pos + r.mask + 1)
	r.tail.Store(pos + 1)
	return v, true
}

// Len is approximate while producers are active.
func (r *Ring[T]) Len() int {
	n := int64(r.head.Load()) - int64(r.tail.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

func (r *Ring[T]) Cap() int {
	return len(r.cells)
}
