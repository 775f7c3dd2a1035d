package queue

import (
	"runtime"
	"sync/atomic"
)

// SPSC is a fixed-capacity single-producer, single-consumer ring buffer used
// for the matching engine's trade and market-data egress queues. Unlike MPSC
// it needs no semaphore: the single producer and single consumer only ever
// contend on the head/tail indices, so plain acquire/release atomics
// (spec.md §5's memory model) suffice.
type SPSC[T any] struct {
	buffer []T
	mask   uint64
	head   atomic.Uint64 // next write index, producer-owned
	tail   atomic.Uint64 // next read index, consumer-owned
}

func NewSPSC[T any](size int) *SPSC[T] {
	if size&(size-1) != 0 {
		panic("queue: size must be a power of two")
	}
	return &SPSC[T]{buffer: make([]T, size), mask: uint64(size - 1)}
}

// TryPush enqueues without blocking; false means the queue is full.
func (q *SPSC[T]) TryPush(item T) bool {
	head := q.head.Load()
	next := (head + 1) & q.mask
	if next == q.tail.Load() {
		return false
	}
	q.buffer[head] = item
	q.head.Store(next)
	return true
}

// PushYield enqueues, yielding the goroutine while the queue is full rather
// than blocking on a semaphore. shouldStop is polled between yields so a
// shutting-down producer can abandon the push instead of spinning forever
// (spec.md §9's queue-full-on-shutdown note).
func (q *SPSC[T]) PushYield(item T, shouldStop func() bool) bool {
	for {
		if q.TryPush(item) {
			return true
		}
		if shouldStop != nil && shouldStop() {
			return false
		}
		runtime.Gosched()
	}
}

// TryPop dequeues without blocking; false means the queue is empty.
func (q *SPSC[T]) TryPop() (T, bool) {
	tail := q.tail.Load()
	if tail == q.head.Load() {
		var zero T
		return zero, false
	}
	item := q.buffer[tail]
	var zero T
	q.buffer[tail] = zero
	q.tail.Store((tail + 1) & q.mask)
	return item, true
}

// Len returns an approximate occupancy, for diagnostics only.
func (q *SPSC[T]) Len() int {
	return int((q.head.Load() - q.tail.Load()) & q.mask)
}
