// Package xerr defines the canonical error taxonomy clients observe, per
// spec.md §7. Every rejection carries a Kind and a short human-readable
// reason; no internal error text escapes past that.
package xerr

import (
	"errors"

	"equityexchange/domain"
)

// Kind is one of the canonical rejection reasons.
type Kind string

const (
	KindMalformedFrame           Kind = "malformed_frame"
	KindNotAuthenticated         Kind = "not_authenticated"
	KindInvalidOrder             Kind = "invalid_order"
	KindDuplicateOrderID         Kind = "duplicate_order_id"
	KindInsufficientBuyingPower  Kind = "insufficient_buying_power"
	KindInsufficientShares       Kind = "insufficient_shares"
	KindDepthLimit               Kind = "depth_limit"
	KindBusy                     Kind = "busy"
	KindFOKInfeasible            Kind = "fok_infeasible"
	KindMarketBandViolated       Kind = "market_band_violated"
	KindEngineShutdown           Kind = "engine_shutdown"
	KindUnknownSymbol            Kind = "unknown_symbol"
	KindNoReferencePrice         Kind = "no_reference_price"
)

// Error is a typed, client-safe rejection. Reason is the exact string sent
// back on the wire; it never contains internal details.
type Error struct {
	Kind   Kind
	Reason string
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) Error() string {
	return e.Reason
}

// KindOf extracts the Kind from an error produced by this package, returning
// ("", false) for any other error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// FromRejectReason maps the internal domain.RejectReason an order carries
// to the client-visible Kind taxonomy of spec.md §7.
func FromRejectReason(reason domain.RejectReason) Kind {
	switch reason {
	case domain.RejectDuplicateID:
		return KindDuplicateOrderID
	case domain.RejectInsufficientBuying:
		return KindInsufficientBuyingPower
	case domain.RejectInsufficientShares:
		return KindInsufficientShares
	case domain.RejectDepthLimit:
		return KindDepthLimit
	case domain.RejectBusy:
		return KindBusy
	case domain.RejectFOKInfeasible:
		return KindFOKInfeasible
	case domain.RejectMarketBandViolated:
		return KindMarketBandViolated
	case domain.RejectEngineShutdown:
		return KindEngineShutdown
	case domain.RejectUnknownSymbol:
		return KindUnknownSymbol
	case domain.RejectNoReferencePrice:
		return KindNoReferencePrice
	default:
		return KindInvalidOrder
	}
}

// Reason renders a short human-readable string for kind, the text placed on
// the wire alongside it. Never includes internal error detail (spec.md §7).
func Reason(kind Kind) string {
	switch kind {
	case KindNotAuthenticated:
		return "not authenticated"
	case KindDuplicateOrderID:
		return "duplicate order id"
	case KindInsufficientBuyingPower:
		return "insufficient buying power"
	case KindInsufficientShares:
		return "insufficient shares"
	case KindDepthLimit:
		return "book depth limit reached"
	case KindBusy:
		return "engine busy"
	case KindFOKInfeasible:
		return "fill-or-kill could not be fully filled"
	case KindMarketBandViolated:
		return "market order outside price protection band"
	case KindEngineShutdown:
		return "engine shutting down"
	case KindUnknownSymbol:
		return "unknown symbol"
	case KindNoReferencePrice:
		return "no reference price available for market order"
	default:
		return "invalid order"
	}
}
