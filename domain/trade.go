package domain

import "sync"

// Trade is a single execution between a resting maker order and an incoming
// taker order. Price is always the maker's price (spec.md §4.2).
type Trade struct {
	ID          string
	Symbol      Symbol
	Price       Price
	Quantity    int64
	TimestampMs int64
	BuyOrderID  OrderID
	SellOrderID OrderID
	BuyUserID   UserID
	SellUserID  UserID
}

var tradePool = sync.Pool{New: func() any { return &Trade{} }}

// NewTrade builds a trade from pooled memory, deriving the buy/sell order and
// user ids from the two matched orders.
func NewTrade(id string, symbol Symbol, price Price, quantity int64, timestampMs int64, buy, sell *Order) *Trade {
	t := tradePool.Get().(*Trade)
	t.ID = id
	t.Symbol = symbol
	t.Price = price
	t.Quantity = quantity
	t.TimestampMs = timestampMs
	t.BuyOrderID = buy.ID
	t.SellOrderID = sell.ID
	t.BuyUserID = buy.UserID
	t.SellUserID = sell.UserID
	return t
}

// Release returns the trade to the pool. Only call once every consumer
// (trade queue subscriber, persistence, account settlement) has observed it.
func (t *Trade) Release() {
	*t = Trade{}
	tradePool.Put(t)
}

// MarketDataUpdate is a snapshot of top-of-book plus last trade, published
// periodically by a symbol's matching engine (spec.md §3).
type MarketDataUpdate struct {
	Symbol      Symbol
	LastPrice   Price
	LastQty     int64
	TopBids     []BookLevel
	TopAsks     []BookLevel
	TimestampMs int64
}

// BookLevel is one depth-of-book entry, returned by snapshot queries.
type BookLevel struct {
	Price    Price
	Quantity int64
	Orders   int
}

// IndexSnapshot is the exchange-wide aggregate index, computed by the
// exchange coordinator's index worker (spec.md §4.4).
type IndexSnapshot struct {
	Name           string
	Value          float64
	DayOpen        float64
	DayHigh        float64
	DayLow         float64
	ChangePoints   float64
	ChangePercent  float64
	Constituents   []IndexConstituent
	TimestampMs    int64
}

// IndexConstituent is one symbol's contribution to an IndexSnapshot.
type IndexConstituent struct {
	Symbol        Symbol
	LastPrice     Price
	ChangePercent float64
	Volume        int64
}
