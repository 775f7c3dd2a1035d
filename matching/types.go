package matching

import "equityexchange/domain"

// ReservationPort is the narrow capability the matching engine needs from
// the account layer: reserve buying power or shares before an order may
// enter the book, release a reservation that is no longer needed, and apply
// a completed trade. spec.md §9 calls this out explicitly to break the
// natural cycle between engine and account manager in the source this spec
// was distilled from (the engine called back into the account manager via
// stored callbacks, which in turn held a pointer back to the engine through
// the exchange). Handing the engine only this interface, scoped to the
// exchange's lifetime, means ownership flows one way in each direction:
// exchange owns the account manager, exchange owns the engine, and neither
// owns the other.
type ReservationPort interface {
	// Reserve attempts to hold buying power (buy) or shares (sell) for
	// order at effectivePrice. On failure it returns the reject reason
	// to surface to the client.
	Reserve(order *domain.Order, effectivePrice domain.Price) (domain.RejectReason, bool)
	// Release frees any remaining reservation for orderID. A missing
	// reservation is a no-op (idempotent), per spec.md §4.3.
	Release(orderID domain.OrderID, symbol domain.Symbol, reason domain.ReleaseReason)
	// ApplyTrade settles a trade against both sides' reservations and
	// balances. Invoked exactly once per trade, by the exchange's trade
	// publisher — never by the engine itself (spec.md §4.4, §9).
	ApplyTrade(trade *domain.Trade)
}

// StatusCallback is invoked whenever an order's externally-visible status
// changes, so a status cache or persistence worker can observe it without
// reading the engine's private order book.
type StatusCallback func(order *domain.Order)

// TradeCallback is invoked once per produced trade, on the matching
// goroutine, before the trade is pushed to the egress queue. It exists for
// low-latency observers (e.g. persistence enqueue) that must never block the
// matching thread; it must not itself call back into the engine.
type TradeCallback func(trade *domain.Trade)

// Command is what callers enqueue on an engine's ingress queue.
type Command struct {
	Kind    CommandKind
	Order   *domain.Order // for NewOrder
	CancelID domain.OrderID // for CancelOrder
}

type CommandKind uint8

const (
	CmdNewOrder CommandKind = iota
	CmdCancelOrder
)
