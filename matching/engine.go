// Package matching implements the per-symbol, single-goroutine matching
// engine: price-time priority matching for Market, Limit, IOC and FOK
// orders, self-trade prevention, a market-order price-protection band, and
// the release-callback contract the account layer observes. Grounded on
// the teacher's matching/engine.go (one goroutine per symbol, one ingress
// queue, pinned ownership of the order book) and, for order-type semantics
// and the adaptive wait loop, on _examples/original_source/src/core_engine/Stock.h.
package matching

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/orderbook"
	"equityexchange/queue"
	"equityexchange/telemetry"
	"equityexchange/waiter"
)

// noLastPrice is the sentinel atomic value meaning "no trade has occurred
// yet", distinguishing that from a genuine (if nonsensical) zero price.
const noLastPrice int64 = -1

const (
	// DefaultIngressCapacity is the order/cancel command queue depth.
	DefaultIngressCapacity = 1 << 16
	// DefaultTradeEgressCapacity is the trade publication queue depth.
	DefaultTradeEgressCapacity = 1 << 14
	// DefaultMarketDataCapacity is the market-data snapshot queue depth.
	DefaultMarketDataCapacity = 1 << 10
	// marketDataEveryOrders throttles snapshot publication so a hot symbol
	// doesn't saturate its egress queue with one update per order.
	marketDataEveryOrders = 1000
	// vwapRenormalizeThreshold bounds the rolling VWAP accumulator; past it
	// both halves are halved together, preserving the ratio rather than
	// resetting to zero (spec.md §9).
	vwapRenormalizeThreshold = 1e15
)

// Options configures a new Engine. Reservations and IDs are required; a nil
// Logger becomes a no-op logger, and the queue capacities and MaxDepth
// default when left zero.
type Options struct {
	Symbol       domain.Symbol
	Reservations ReservationPort
	IDs          *IDGenerator
	Logger       *zap.Logger
	OnStatus     StatusCallback
	OnTrade      TradeCallback

	MaxDepth           int
	IngressCapacity    int
	TradeCapacity      int
	MarketDataCapacity int
}

// Engine owns one symbol's order book exclusively. All mutation of the book
// happens on a single goroutine (Start launches it); every other method is
// safe to call concurrently because it only ever touches the lock-free
// ingress queue or the status cache's own lock.
type Engine struct {
	symbol       domain.Symbol
	book         *orderbook.Book
	maxDepth     int
	reservations ReservationPort
	ids          *IDGenerator
	logger       *zap.Logger

	onStatus StatusCallback
	onTrade  TradeCallback

	ingress *queue.MPSC[Command]
	trades  *queue.SPSC[*domain.Trade]
	mktData *queue.SPSC[*domain.MarketDataUpdate]
	waiter  *waiter.Adaptive
	telem   *telemetry.Engine

	// lastPriceCents is written only by the matching goroutine but read by
	// any goroutine computing a market order's reservation effective-price
	// (spec.md §4.4 step 2) before the order ever reaches the ingress
	// queue, so it is atomic rather than plain-field private state. Holds
	// noLastPrice until the symbol's first trade.
	lastPriceCents atomic.Int64

	// Matching-goroutine-private state below; touched only inside loop().
	dayHigh       domain.Price
	dayLow        domain.Price
	vwapNum       float64
	vwapDenom     float64
	sinceSnapshot int

	statusMu    sync.RWMutex
	statusCache map[domain.OrderID]domain.Status

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine constructs an engine for one symbol. Call Start to begin
// processing.
func NewEngine(opts Options) *Engine {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = orderbook.DefaultMaxDepth
	}
	ingressCap := opts.IngressCapacity
	if ingressCap <= 0 {
		ingressCap = DefaultIngressCapacity
	}
	tradeCap := opts.TradeCapacity
	if tradeCap <= 0 {
		tradeCap = DefaultTradeEgressCapacity
	}
	mdCap := opts.MarketDataCapacity
	if mdCap <= 0 {
		mdCap = DefaultMarketDataCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		symbol:       opts.Symbol,
		book:         orderbook.NewWithDepth(opts.Symbol, maxDepth),
		maxDepth:     maxDepth,
		reservations: opts.Reservations,
		ids:          opts.IDs,
		logger:       logger.With(zap.String("symbol", string(opts.Symbol))),
		onStatus:     opts.OnStatus,
		onTrade:      opts.OnTrade,
		ingress:      queue.NewMPSC[Command](ingressCap),
		trades:       queue.NewSPSC[*domain.Trade](tradeCap),
		mktData:      queue.NewSPSC[*domain.MarketDataUpdate](mdCap),
		waiter:       waiter.New(),
		telem:        telemetry.New(),
		statusCache:  make(map[domain.OrderID]domain.Status),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	e.lastPriceCents.Store(noLastPrice)
	return e
}

// Symbol returns the engine's symbol.
func (e *Engine) Symbol() domain.Symbol { return e.symbol }

// Trades returns the trade egress queue for this symbol's publisher to
// drain.
func (e *Engine) Trades() *queue.SPSC[*domain.Trade] { return e.trades }

// MarketData returns the market-data egress queue for this symbol's
// publisher to drain.
func (e *Engine) MarketData() *queue.SPSC[*domain.MarketDataUpdate] { return e.mktData }

// Telemetry returns the engine's counters.
func (e *Engine) Telemetry() telemetry.Snapshot { return e.telem.Snapshot() }

// LastPrice returns the symbol's most recent trade price, safe to call from
// any goroutine (the exchange coordinator needs it synchronously, before
// enqueue, to compute a market order's reservation effective-price per
// spec.md §4.4). ok is false until the symbol's first trade.
func (e *Engine) LastPrice() (price domain.Price, ok bool) {
	v := e.lastPriceCents.Load()
	if v == noLastPrice {
		return 0, false
	}
	return domain.Price(v), true
}

// Status returns the last known status for orderID, if the engine has ever
// processed it.
func (e *Engine) Status(id domain.OrderID) (domain.Status, bool) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	s, ok := e.statusCache[id]
	return s, ok
}

func (e *Engine) setStatus(id domain.OrderID, s domain.Status) {
	e.statusMu.Lock()
	e.statusCache[id] = s
	e.statusMu.Unlock()
}

// Depth returns up to n price levels per side. Intended for callers that
// accept an eventually-consistent snapshot; prefer the published
// MarketDataUpdate stream for anything that must line up exactly with a
// particular trade.
func (e *Engine) Depth(n int) (bids, asks []domain.BookLevel) {
	return e.book.Depth(n)
}

// SubmitOrder enqueues order for processing. It reports false if the
// ingress queue is full, in which case the engine never saw the order and
// the caller must itself reject it with domain.RejectBusy and release any
// reservation it already took (the exchange does so with
// domain.ReleaseQueueFull).
func (e *Engine) SubmitOrder(order *domain.Order) bool {
	return e.ingress.TryPublish(Command{Kind: CmdNewOrder, Order: order})
}

// CancelOrder enqueues a cancel request. A cancel for an unknown or already
// terminal order id is a silent no-op once processed, per spec.md §4.2's
// idempotent-cancel note. It reports false if the ingress queue is full.
func (e *Engine) CancelOrder(id domain.OrderID) bool {
	return e.ingress.TryPublish(Command{Kind: CmdCancelOrder, CancelID: id})
}

// Start launches the matching goroutine. Safe to call once.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	go e.loop()
}

// Stop signals the matching goroutine to drain and exit, releasing every
// resting order's reservation with domain.ReleaseEngineShutdown, and blocks
// until it has. Safe to call once.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	consumer := e.ingress.NewConsumer()
	for {
		cmd, ok := consumer.TryConsume()
		if !ok {
			select {
			case <-e.stopCh:
				e.drainShutdown()
				return
			default:
			}
			e.waiter.RecordIteration(false)
			e.waiter.Wait()
			continue
		}
		e.waiter.RecordIteration(true)
		start := time.Now()
		switch cmd.Kind {
		case CmdNewOrder:
			e.processNewOrder(cmd.Order)
		case CmdCancelOrder:
			e.processCancel(cmd.CancelID)
		}
		e.telem.RecordOrder(time.Since(start).Microseconds())
		e.maybePublishMarketData()
	}
}

func (e *Engine) drainShutdown() {
	for _, order := range e.book.Drain() {
		order.Cancel()
		e.setStatus(order.ID, order.Status)
		e.notifyStatus(order)
		e.reservations.Release(order.ID, e.symbol, domain.ReleaseEngineShutdown)
		order.Release()
	}
}

func (e *Engine) notifyStatus(order *domain.Order) {
	if e.onStatus != nil {
		e.onStatus(order)
	}
}

func (e *Engine) processCancel(id domain.OrderID) {
	order, ok := e.book.Get(id)
	if !ok {
		return
	}
	e.book.Remove(id)
	order.Cancel()
	e.setStatus(id, order.Status)
	e.notifyStatus(order)
	e.reservations.Release(id, e.symbol, domain.ReleaseCancelled)
	order.Release()
}

// processNewOrder runs the admission/match/finalize pipeline for one
// incoming order, per spec.md §4.2. The exchange gate has already validated
// the order and reserved against it (spec.md §4.4) before ever enqueueing
// it here, so every rejection path below must free that existing
// reservation — there is no Reserve call on this path, only Release. It is
// only ever called from loop, so it may freely mutate the book.
func (e *Engine) processNewOrder(order *domain.Order) {
	if _, exists := e.book.Get(order.ID); exists {
		order.Reject(domain.RejectDuplicateID)
		// Neither "duplicate" nor "depth limit" has its own entry in
		// spec.md §4.2's release-reason taxonomy (filled / cancelled /
		// ioc_remainder / fok_not_filled / market_unmatched); both are
		// pre-match rejections of an order that never became live, so
		// they free the reservation under the same bucket a plain cancel
		// would.
		e.finalizeRejected(order, domain.ReleaseCancelled)
		return
	}

	if order.Kind == domain.KindMarket {
		if _, ok := e.LastPrice(); !ok {
			// Defensive only: the exchange gate already refuses to admit
			// a Market order with no reference price, so this fires only
			// if the symbol's first trade raced between reservation and
			// enqueue.
			order.Reject(domain.RejectNoReferencePrice)
			e.finalizeRejected(order, domain.ReleaseMarketUnmatched)
			return
		}
	}

	if order.Kind.RestsOnBook() {
		count := e.book.BuyCount()
		if order.Side == domain.SideSell {
			count = e.book.SellCount()
		}
		if count >= e.maxDepth {
			order.Reject(domain.RejectDepthLimit)
			e.finalizeRejected(order, domain.ReleaseCancelled)
			return
		}
	}

	withinLimit := e.limitFuncFor(order)

	if order.Kind == domain.KindFOK && !e.fokFeasible(order, withinLimit) {
		order.CancelWithReason(domain.RejectFOKInfeasible)
		e.finalizeRejected(order, domain.ReleaseFOKNotFilled)
		return
	}

	e.match(order, withinLimit)
	e.finalizeMatched(order)
}

// limitFuncFor returns the predicate WalkMatchable and the FOK feasibility
// walk use to decide whether a resting level is still matchable for order.
func (e *Engine) limitFuncFor(order *domain.Order) func(domain.Price) bool {
	if order.Kind == domain.KindMarket {
		bound := e.marketBand(order.Side)
		if order.Side == domain.SideBuy {
			return func(p domain.Price) bool { return p <= bound }
		}
		return func(p domain.Price) bool { return p >= bound }
	}
	// Limit, IOC and FOK all cross at the same condition: the order's own
	// limit price.
	limit := order.Price
	if order.Side == domain.SideBuy {
		return func(p domain.Price) bool { return p <= limit }
	}
	return func(p domain.Price) bool { return p >= limit }
}

// marketBand computes the price-protection bound for a market order of the
// given side: +10% of last trade price for a buy (the most a taker may
// pay), -10% for a sell (the least a taker may receive). Integer math on
// Price avoids float drift (spec.md §3).
func (e *Engine) marketBand(side domain.Side) domain.Price {
	last := domain.Price(e.lastPriceCents.Load())
	if side == domain.SideBuy {
		return last * 11 / 10
	}
	return last * 9 / 10
}

// fokFeasible walks the opposite side without mutating anything, reporting
// whether order's full quantity could be filled under withinLimit and
// self-trade prevention. There is no precedent for this in the source this
// spec was distilled from (which only ever issued MARKET/LIMIT orders); the
// walk is the natural generalization of the same matching predicate
// Limit/IOC/Market already use.
func (e *Engine) fokFeasible(order *domain.Order, withinLimit func(domain.Price) bool) bool {
	needed := order.RemainingQty
	var available int64
	e.book.WalkMatchable(order.Side.Opposite(), withinLimit, order.UserID, func(maker *domain.Order) bool {
		available += maker.RemainingQty
		return available >= needed
	})
	return available >= needed
}

// match executes order against resting makers on the opposite side until
// either order is filled, the book runs out of eligible makers, or
// withinLimit rejects the next level. Self-trade prevention (spec.md §4.2,
// scenario S4) is enforced by orderbook.WalkMatchable itself: makers owned
// by order's own user are skipped without being touched.
func (e *Engine) match(order *domain.Order, withinLimit func(domain.Price) bool) {
	e.book.WalkMatchable(order.Side.Opposite(), withinLimit, order.UserID, func(maker *domain.Order) bool {
		qty := order.RemainingQty
		if maker.RemainingQty < qty {
			qty = maker.RemainingQty
		}
		price := maker.Price // trade price is always the maker's price.

		trade := domain.NewTrade(e.ids.Next(e.symbol), e.symbol, price, qty, domain.NowMs(), buyOrder(order, maker), sellOrder(order, maker))
		e.telem.RecordTrade()
		e.recordTrade(price, qty)
		if e.onTrade != nil {
			e.onTrade(trade)
		}
		// apply_trade is deliberately NOT invoked here: spec.md §4.4 assigns
		// it to the trade publisher thread that drains Trades(), and §9's
		// double-callback note warns against the source's bug of running it
		// from two places. Settling here as well as there would double-debit
		// both accounts.
		if !e.trades.PushYield(trade, e.isStopping) {
			e.logger.Warn("trade dropped at shutdown", zap.String("trade_id", trade.ID))
		}

		maker.Fill(qty)
		order.Fill(qty)

		if maker.IsFilled() {
			e.book.Remove(maker.ID)
			e.setStatus(maker.ID, maker.Status)
			e.notifyStatus(maker)
			e.reservations.Release(maker.ID, e.symbol, domain.ReleaseFilled)
			maker.Release()
		} else {
			e.book.Reduce(maker.ID, qty)
			e.setStatus(maker.ID, maker.Status)
			e.notifyStatus(maker)
		}

		return order.IsFilled()
	})
}

func buyOrder(taker, maker *domain.Order) *domain.Order {
	if taker.Side == domain.SideBuy {
		return taker
	}
	return maker
}

func sellOrder(taker, maker *domain.Order) *domain.Order {
	if taker.Side == domain.SideSell {
		return taker
	}
	return maker
}

// recordTrade updates last-price, day high/low and the rolling VWAP
// accumulator. Only called from the matching goroutine.
func (e *Engine) recordTrade(price domain.Price, qty int64) {
	e.lastPriceCents.Store(int64(price))
	if price > e.dayHigh {
		e.dayHigh = price
	}
	if e.dayLow == 0 || price < e.dayLow {
		e.dayLow = price
	}
	e.vwapNum += float64(price) * float64(qty)
	e.vwapDenom += float64(qty)
	if e.vwapDenom > vwapRenormalizeThreshold {
		// Halve both sides together so the ratio survives the reset;
		// collapsing to zero would make the very next trade's VWAP equal
		// to its own price, discarding all prior history.
		e.vwapNum /= 2
		e.vwapDenom /= 2
	}
}

// VWAP returns the engine's rolling volume-weighted average trade price, or
// 0 if no trade has occurred yet.
func (e *Engine) VWAP() domain.Price {
	if e.vwapDenom == 0 {
		return 0
	}
	return domain.Price(e.vwapNum / e.vwapDenom)
}

// finalizeRejected handles an order that never became live: no book
// mutation, just a status publish and release of the reservation the
// exchange gate took out before enqueueing it.
func (e *Engine) finalizeRejected(order *domain.Order, releaseReason domain.ReleaseReason) {
	e.setStatus(order.ID, order.Status)
	e.notifyStatus(order)
	e.reservations.Release(order.ID, e.symbol, releaseReason)
	order.Release()
}

// finalizeMatched handles an order that passed admission and went through
// match: either it rests (Limit only), or its remainder (if any) is
// released under the kind-specific reason.
func (e *Engine) finalizeMatched(order *domain.Order) {
	if order.IsFilled() {
		e.setStatus(order.ID, order.Status)
		e.notifyStatus(order)
		e.reservations.Release(order.ID, e.symbol, domain.ReleaseFilled)
		order.Release()
		return
	}

	if order.Kind == domain.KindLimit {
		if order.RemainingQty == order.Quantity {
			order.Status = domain.StatusOpen
		}
		if err := e.book.Insert(order); err != nil {
			// This goroutine is the book's only writer, so the pre-check
			// in processNewOrder can only be stale here if the remainder
			// itself pushed the side across the cap — treat it like a
			// cancel rather than leaving the order in limbo.
			order.Cancel()
			e.setStatus(order.ID, order.Status)
			e.notifyStatus(order)
			e.reservations.Release(order.ID, e.symbol, domain.ReleaseCancelled)
			order.Release()
			return
		}
		e.setStatus(order.ID, order.Status)
		e.notifyStatus(order)
		return
	}

	// IOC, FOK and Market never rest: any remainder is cancelled and its
	// reservation released. FOK's feasibility check means it should reach
	// here only fully filled; the fallback keeps this correct even if that
	// invariant is ever violated upstream.
	reason := domain.ReleaseIOCRemainder
	switch order.Kind {
	case domain.KindMarket:
		reason = domain.ReleaseMarketUnmatched
		if price, ok := e.bestOpposite(order.Side); ok && !e.limitFuncFor(order)(price) {
			// Liquidity existed but sat outside the protection band
			// (spec.md §4.2, scenario S5); tag the reason distinctly from
			// a market order that simply ran out of opposite-side depth.
			order.CancelWithReason(domain.RejectMarketBandViolated)
		} else {
			order.Cancel()
		}
	case domain.KindFOK:
		reason = domain.ReleaseFOKNotFilled
		order.Cancel()
	default:
		order.Cancel()
	}
	e.setStatus(order.ID, order.Status)
	e.notifyStatus(order)
	e.reservations.Release(order.ID, e.symbol, reason)
	order.Release()
}

// bestOpposite returns the best resting price on the side opposite side, if
// any.
func (e *Engine) bestOpposite(side domain.Side) (domain.Price, bool) {
	if side == domain.SideBuy {
		return e.book.BestAsk()
	}
	return e.book.BestBid()
}

func (e *Engine) maybePublishMarketData() {
	e.sinceSnapshot++
	if e.sinceSnapshot < marketDataEveryOrders {
		return
	}
	e.sinceSnapshot = 0
	bids, asks := e.book.Depth(5)
	lastPrice, _ := e.LastPrice()
	update := &domain.MarketDataUpdate{
		Symbol:      e.symbol,
		LastPrice:   lastPrice,
		TopBids:     bids,
		TopAsks:     asks,
		TimestampMs: domain.NowMs(),
	}
	// Latest-wins: a dropped snapshot just means subscribers see the next
	// one slightly later, never a correctness issue.
	e.mktData.TryPush(update)
}

func (e *Engine) isStopping() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}
