package exchange

import (
	"math"

	"equityexchange/domain"
)

// Gate validation limits, per spec.md §4.4.
const (
	MaxOrderQuantity  int64        = 1_000_000_000
	MinNonMarketPrice domain.Price = 1                 // 1 cent
	MaxNonMarketPrice domain.Price = 1_000_000 * 100    // $1,000,000
)

// validate runs the exchange-gate checks that apply before an order ever
// reaches reservation or enqueue: the structural and range checks spec.md
// §4.4 lists as the gate's responsibility, distinct from the reservation
// and depth checks that follow later in the pipeline.
func validate(order *domain.Order, knownSymbol bool) domain.RejectReason {
	if order.ID == "" || order.UserID == "" || order.Symbol == "" {
		return domain.RejectInvalidOrder
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return domain.RejectInvalidOrder
	}
	switch order.Kind {
	case domain.KindMarket, domain.KindLimit, domain.KindIOC, domain.KindFOK:
	default:
		return domain.RejectInvalidOrder
	}
	if order.Quantity < 1 || order.Quantity > MaxOrderQuantity {
		return domain.RejectInvalidOrder
	}
	if !knownSymbol {
		return domain.RejectUnknownSymbol
	}
	if order.Kind != domain.KindMarket {
		if order.Price < MinNonMarketPrice || order.Price > MaxNonMarketPrice {
			return domain.RejectInvalidOrder
		}
		if order.Quantity > math.MaxInt64/int64(order.Price) {
			return domain.RejectInvalidOrder
		}
	}
	return domain.RejectNone
}
