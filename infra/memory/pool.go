package memory

import "sync"

// Pool is a typed sync.Pool. Objects are cleared with reset before they
// are handed out again.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

func NewPool[T any](reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.p.New = func() any { return new(T) }
	return p
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

// Put returns v to the pool. The caller must hold no other reference.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}
