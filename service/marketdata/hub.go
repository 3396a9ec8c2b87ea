// Package marketdata fans book deltas and fills out to many readers. A
// slow subscriber loses messages rather than stalling the matching
// worker that broadcasts.
package marketdata

import (
	"sync"
	"sync/atomic"
)

type Subscription[T any] struct {
	ch      chan T
	filter  func(T) bool
	dropped atomic.Uint64
}

// C is closed by Unsubscribe.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped counts messages lost because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a reader. filter may be nil.
func (h *Hub[T]) Subscribe(buffer int, filter func(T) bool) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, buffer), filter: filter}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Broadcast never blocks.
func (h *Hub[T]) Broadcast(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(v) {
			continue
		}
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everyone.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription[T]]struct{})
	h.mu.Unlock()
	for sub := range subs {
		close(sub.ch)
	}
}
