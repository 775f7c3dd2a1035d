package queue

import "sync"

// Pool is an object pool over sync.Pool (spec.md §2's ObjectPool
// component): Get returns a previously Put item when one is cached and
// otherwise calls the New function given to NewPool, so the hot path that
// calls it never blocks waiting for a Put. It has no fixed capacity and no
// slab of its own, and Get does not reset an item: a reused item comes back
// as it was Put.
type Pool[T any] struct {
	pool sync.Pool
}

// NewPool creates a pool whose New function is supplied by the caller (a
// plain `func() *T { return &T{} }` for most element types).
func NewPool[T any](newFn func() *T) *Pool[T] {
	return &Pool[T]{pool: sync.Pool{New: func() any { return newFn() }}}
}

func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.pool.Put(v)
}
