package domain

import (
	"sync"
	"time"
)

// RejectReason names why an order never became live. Mirrors the taxonomy in
// spec.md §7.
type RejectReason string

const (
	RejectNone                  RejectReason = ""
	RejectDuplicateID           RejectReason = "duplicate_order_id"
	RejectInvalidOrder          RejectReason = "invalid_order"
	RejectInsufficientBuying    RejectReason = "insufficient_buying_power"
	RejectInsufficientShares    RejectReason = "insufficient_shares"
	RejectDepthLimit            RejectReason = "depth_limit"
	RejectBusy                  RejectReason = "busy"
	RejectFOKInfeasible         RejectReason = "fok_infeasible"
	RejectMarketBandViolated    RejectReason = "market_band_violated"
	RejectEngineShutdown        RejectReason = "engine_shutdown"
	RejectNoReferencePrice      RejectReason = "no_reference_price"
	RejectUnknownSymbol         RejectReason = "unknown_symbol"
)

// Order is a single buy or sell instruction. Resting orders are owned
// exclusively by their symbol's order book; every other field is safe to read
// from any thread once the order has left the matching engine (the engine's
// status callback, which runs on the matching goroutine, is handed the live
// order).
type Order struct {
	ID            OrderID
	UserID        UserID
	Symbol        Symbol
	Side          Side
	Kind          Kind
	Quantity      int64
	RemainingQty  int64
	Price         Price // meaningful for Limit/IOC/FOK only
	TimestampMs   int64
	Status        Status
	RejectReason  RejectReason
}

var orderPool = sync.Pool{New: func() any { return &Order{} }}

// NewOrder builds an order from pooled memory. Quantity/RemainingQty start
// equal; Price is ignored for Market orders by convention (callers should
// leave it zero).
func NewOrder(id OrderID, userID UserID, symbol Symbol, side Side, kind Kind, price Price, quantity int64, timestampMs int64) *Order {
	o := orderPool.Get().(*Order)
	o.ID = id
	o.UserID = userID
	o.Symbol = symbol
	o.Side = side
	o.Kind = kind
	o.Price = price
	o.Quantity = quantity
	o.RemainingQty = quantity
	o.TimestampMs = timestampMs
	o.Status = StatusPending
	o.RejectReason = RejectNone
	return o
}

// NowMs returns the current time as epoch milliseconds, the unit orders and
// trades carry on the wire and internally.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.RemainingQty <= 0
}

// Fill reduces RemainingQty by qty and updates Status accordingly. qty must
// be <= RemainingQty.
func (o *Order) Fill(qty int64) {
	o.RemainingQty -= qty
	if o.RemainingQty <= 0 {
		o.RemainingQty = 0
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
}

// Cancel marks the order terminal with no reason tag (a plain client-
// initiated cancel of a resting order).
func (o *Order) Cancel() {
	o.Status = StatusCancelled
}

// CancelWithReason marks the order Cancelled carrying a reason tag, for the
// cases spec.md §4.2/§8 call out as "terminal as Cancelled(reason)" rather
// than Rejected — FOK infeasibility and a market order's unmatched
// remainder. Unlike Reject, the order may already carry fills
// (RemainingQty < Quantity) when this is called.
func (o *Order) CancelWithReason(reason RejectReason) {
	o.Status = StatusCancelled
	o.RejectReason = reason
}

// Reject marks the order terminal with a reason, per spec.md §4.2's
// pre-match validation failures.
func (o *Order) Reject(reason RejectReason) {
	o.Status = StatusRejected
	o.RejectReason = reason
}

// Release returns the order to the pool. Callers must not touch the order
// again afterward; only call this once an order's terminal status has been
// observed by every interested party (status cache, persistence).
func (o *Order) Release() {
	*o = Order{}
	orderPool.Put(o)
}
