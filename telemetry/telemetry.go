// Package telemetry replaces the mutable global counters the teacher's
// source tends toward with a single explicit object passed to whatever
// needs to record engine activity, per spec.md §9's "Mutable global
// counters" design note. Grounded on
// _examples/original_source/src/common/EngineTelemetry.h's rolling
// order-count/latency accumulator, minus its process-wide singleton: callers
// hold their own *Engine and pass it where needed instead of reaching for a
// global instance.
package telemetry

import "sync/atomic"

// Snapshot is a point-in-time read of an Engine's counters.
type Snapshot struct {
	TotalOrders       uint64
	TotalTrades       uint64
	AverageLatencyUs  float64
}

// Engine accumulates order/trade counts and a rolling average submit-to-ack
// latency for one matching engine. All fields are atomics so any thread can
// record without coordinating with the matching goroutine.
type Engine struct {
	orders        atomic.Uint64
	trades        atomic.Uint64
	latencySumUs  atomic.Int64
	latencySample atomic.Uint64
}

func New() *Engine {
	return &Engine{}
}

// RecordOrder records one processed order. latencyUs < 0 means "latency not
// measured for this order" and is excluded from the rolling average.
func (e *Engine) RecordOrder(latencyUs int64) {
	e.orders.Add(1)
	if latencyUs >= 0 {
		e.latencySumUs.Add(latencyUs)
		e.latencySample.Add(1)
	}
}

// RecordTrade records one executed trade.
func (e *Engine) RecordTrade() {
	e.trades.Add(1)
}

// Snapshot returns the current counters. Cheap enough to call once a second
// from a monitoring goroutine.
func (e *Engine) Snapshot() Snapshot {
	samples := e.latencySample.Load()
	var avg float64
	if samples > 0 {
		avg = float64(e.latencySumUs.Load()) / float64(samples)
	}
	return Snapshot{
		TotalOrders:      e.orders.Load(),
		TotalTrades:      e.trades.Load(),
		AverageLatencyUs: avg,
	}
}
