// Package exchange implements the top-level dispatcher of spec.md §4.4: the
// symbol → MatchingEngine registry, the order-submission pipeline (gate
// validation, reservation, enqueue), the trade-publisher goroutines that are
// the sole callers of accounts.apply_trade, and the cross-symbol index
// worker. Grounded on the teacher's top-level wiring in main.go (one
// goroutine per symbol plus a shared dispatch map) and, for the index
// computation, on _examples/original_source/src/core_engine/StockExchange.h.
package exchange

import (
	"context"
	"sync"
	"time"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/matching"
	"equityexchange/store"
)

// DefaultIndexInterval matches spec.md §4.4's 1000ms sampling cadence.
const DefaultIndexInterval = 1000 * time.Millisecond

// DefaultIndexBase is the starting value of the equal-weighted index, the
// day every registered symbol's price equals its own day-open.
const DefaultIndexBase = 1000.0

// Persistence is the narrow slice of the persistence worker the exchange
// needs: fire-and-forget enqueue of order/trade rows. Both methods must
// never block; a full queue is drop-and-log inside the implementation
// (spec.md §4.6), not a concern of the exchange.
type Persistence interface {
	EnqueueOrder(order *domain.Order)
	EnqueueTrade(trade *domain.Trade)
}

// noopPersistence discards everything; used when the exchange is wired
// without a persistence worker (e.g. in tests).
type noopPersistence struct{}

func (noopPersistence) EnqueueOrder(*domain.Order) {}
func (noopPersistence) EnqueueTrade(*domain.Trade) {}

// SecurityRecorder is the narrow slice of store.Store the gate needs to
// audit a rejection spec.md §4.6 treats as security-relevant (spec.md's
// "synchronous, audit-critical" path): malformed orders and unknown-symbol
// probes. Routine trading friction — insufficient buying power, a full
// book, a missing reference price — is not audited here; it is ordinary
// rejection traffic, not the low-rate signal this table is for.
type SecurityRecorder interface {
	RecordSecurityEvent(ctx context.Context, ev store.SecurityEvent) error
}

// noopSecurityRecorder discards everything; used when the exchange is
// wired without a durable store (e.g. in tests).
type noopSecurityRecorder struct{}

func (noopSecurityRecorder) RecordSecurityEvent(context.Context, store.SecurityEvent) error {
	return nil
}

// Config configures index computation.
type Config struct {
	IndexInterval time.Duration
	IndexBase     float64
}

type symbolState struct {
	mu      sync.Mutex
	volume  int64
	dayOpen domain.Price
	dayHigh domain.Price
	dayLow  domain.Price
}

// Exchange is the top-level coordinator: one per process, owning every
// symbol's matching engine and the single account manager all of them
// share.
type Exchange struct {
	accounts    matching.ReservationPort
	persistence Persistence
	audit       SecurityRecorder
	logger      *zap.Logger

	indexInterval time.Duration
	indexBase     float64

	// engines is populated once at startup via RegisterSymbol before
	// Submit is ever called concurrently, so it is read-only thereafter
	// and needs no lock.
	engines map[domain.Symbol]*matching.Engine
	symbols *rbt.Tree[domain.Symbol, *matching.Engine]

	// states is populated alongside engines in RegisterSymbol and is
	// likewise read-only once Start has been called.
	states map[domain.Symbol]*symbolState

	subsMu sync.RWMutex
	subs   []chan *domain.IndexSnapshot

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Exchange. persistence and audit may both be nil, in
// which case order/trade events are discarded and gate rejections go
// unaudited rather than erroring out.
func New(accounts matching.ReservationPort, persistence Persistence, audit SecurityRecorder, logger *zap.Logger, cfg Config) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	if persistence == nil {
		persistence = noopPersistence{}
	}
	if audit == nil {
		audit = noopSecurityRecorder{}
	}
	if cfg.IndexInterval <= 0 {
		cfg.IndexInterval = DefaultIndexInterval
	}
	if cfg.IndexBase <= 0 {
		cfg.IndexBase = DefaultIndexBase
	}
	return &Exchange{
		accounts:      accounts,
		persistence:   persistence,
		audit:         audit,
		logger:        logger,
		indexInterval: cfg.IndexInterval,
		indexBase:     cfg.IndexBase,
		engines:       make(map[domain.Symbol]*matching.Engine),
		symbols:       rbt.NewWith[domain.Symbol, *matching.Engine](symbolComparator),
		states:        make(map[domain.Symbol]*symbolState),
		stopCh:        make(chan struct{}),
	}
}

func symbolComparator(a, b domain.Symbol) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// RegisterSymbol adds engine to the dispatch table. Must be called before
// Start and before any Submit for that symbol; not safe to call
// concurrently with Submit.
func (x *Exchange) RegisterSymbol(engine *matching.Engine) {
	x.engines[engine.Symbol()] = engine
	x.symbols.Put(engine.Symbol(), engine)
	x.states[engine.Symbol()] = &symbolState{}
}

// Start launches the matching engines, one trade-publisher goroutine per
// symbol, and the index worker. Call RegisterSymbol for every symbol first.
func (x *Exchange) Start(ctx context.Context) {
	for _, engine := range x.engines {
		engine.Start()
		x.wg.Add(1)
		go x.runPublisher(engine)
	}
	x.wg.Add(1)
	go x.runIndexWorker(ctx)
}

// Stop signals every publisher and the index worker to drain and exit, and
// stops every registered engine. Blocks until all goroutines have returned.
func (x *Exchange) Stop() {
	close(x.stopCh)
	for _, engine := range x.engines {
		engine.Stop()
	}
	x.wg.Wait()
}

// Submit runs the full admission pipeline of spec.md §4.4: gate validation,
// effective-price computation, reservation, and enqueue. The caller
// retains ownership of order (and must eventually call order.Release()
// once its terminal status has been observed) unless Submit enqueues it
// successfully, in which case the engine owns it from here on.
func (x *Exchange) Submit(order *domain.Order) (bool, domain.RejectReason) {
	engine, known := x.engines[order.Symbol]

	if reason := validate(order, known); reason != domain.RejectNone {
		order.Reject(reason)
		x.persistence.EnqueueOrder(order)
		x.auditGateRejection(order, reason)
		return false, reason
	}

	effectivePrice := order.Price
	if order.Kind == domain.KindMarket {
		price, ok := engine.LastPrice()
		if !ok {
			order.Reject(domain.RejectNoReferencePrice)
			x.persistence.EnqueueOrder(order)
			return false, domain.RejectNoReferencePrice
		}
		effectivePrice = price
	}

	reason, ok := x.accounts.Reserve(order, effectivePrice)
	if !ok {
		order.Reject(reason)
		x.persistence.EnqueueOrder(order)
		return false, reason
	}

	if !engine.SubmitOrder(order) {
		x.accounts.Release(order.ID, order.Symbol, domain.ReleaseQueueFull)
		order.Reject(domain.RejectBusy)
		x.persistence.EnqueueOrder(order)
		return false, domain.RejectBusy
	}
	return true, domain.RejectNone
}

// auditGateRejection records a security event for the subset of gate
// rejections spec.md §4.6 treats as security-relevant: a malformed order or
// an unknown symbol, either of which looks like a misbehaving client rather
// than a trader who simply missed the market. Blocks the caller briefly on
// the durable store; a bounded timeout keeps a stalled audit write from
// holding up the rejection response indefinitely.
func (x *Exchange) auditGateRejection(order *domain.Order, reason domain.RejectReason) {
	if reason != domain.RejectInvalidOrder && reason != domain.RejectUnknownSymbol {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := x.audit.RecordSecurityEvent(ctx, store.SecurityEvent{
		UserID:      order.UserID,
		Kind:        string(reason),
		Detail:      "order gate rejection for symbol " + string(order.Symbol),
		TimestampMs: domain.NowMs(),
	}); err != nil {
		x.logger.Warn("security event record failed", zap.Error(err), zap.String("reason", string(reason)))
	}
}

// Engines returns every registered engine, for callers (e.g. the
// market-data feed) that need to attach to each symbol's streams. Only
// safe to call after all RegisterSymbol calls have completed.
func (x *Exchange) Engines() []*matching.Engine {
	out := make([]*matching.Engine, 0, len(x.engines))
	for _, engine := range x.engines {
		out = append(out, engine)
	}
	return out
}

// Cancel forwards a cancel request to order's symbol engine. Reports false
// if the symbol is unknown or the engine's ingress is full.
func (x *Exchange) Cancel(symbol domain.Symbol, orderID domain.OrderID) bool {
	engine, ok := x.engines[symbol]
	if !ok {
		return false
	}
	return engine.CancelOrder(orderID)
}

// Status returns the last known status for orderID on the given symbol.
func (x *Exchange) Status(symbol domain.Symbol, orderID domain.OrderID) (domain.Status, bool) {
	engine, ok := x.engines[symbol]
	if !ok {
		return 0, false
	}
	return engine.Status(orderID)
}

// runPublisher drains engine's trade queue, applying each trade against
// both sides' accounts exactly once (spec.md §4.4, §9) before forwarding it
// to persistence and releasing it back to the trade pool.
func (x *Exchange) runPublisher(engine *matching.Engine) {
	defer x.wg.Done()
	state := x.states[engine.Symbol()]
	queue := engine.Trades()
	for {
		trade, ok := queue.TryPop()
		if !ok {
			select {
			case <-x.stopCh:
				// Drain whatever remains before exiting so no settled
				// trade is lost on shutdown.
				for {
					trade, ok := queue.TryPop()
					if !ok {
						return
					}
					x.settleTrade(state, trade)
				}
			default:
				time.Sleep(time.Microsecond)
			}
			continue
		}
		x.settleTrade(state, trade)
	}
}

func (x *Exchange) settleTrade(state *symbolState, trade *domain.Trade) {
	x.accounts.ApplyTrade(trade)
	x.persistence.EnqueueTrade(trade)

	state.mu.Lock()
	if state.volume == 0 {
		state.dayOpen = trade.Price
		state.dayHigh = trade.Price
		state.dayLow = trade.Price
	}
	state.volume += trade.Quantity
	if trade.Price > state.dayHigh {
		state.dayHigh = trade.Price
	}
	if trade.Price < state.dayLow {
		state.dayLow = trade.Price
	}
	state.mu.Unlock()

	trade.Release()
}

// Subscribe returns a channel of index snapshots. The channel is closed
// when the exchange stops.
func (x *Exchange) Subscribe() <-chan *domain.IndexSnapshot {
	ch := make(chan *domain.IndexSnapshot, 16)
	x.subsMu.Lock()
	x.subs = append(x.subs, ch)
	x.subsMu.Unlock()
	return ch
}

func (x *Exchange) runIndexWorker(ctx context.Context) {
	defer x.wg.Done()
	ticker := time.NewTicker(x.indexInterval)
	defer ticker.Stop()
	for {
		select {
		case <-x.stopCh:
			x.closeSubscribers()
			return
		case <-ctx.Done():
			x.closeSubscribers()
			return
		case <-ticker.C:
			snap := x.computeIndex()
			x.fanOut(snap)
		}
	}
}

// computeIndex samples every registered symbol's (last_price, volume) and
// combines them into an equal-weighted index, per spec.md §4.4. Iteration
// order is the symbol tree's sorted order, so two runs over the same
// symbol set always sum in the same order (deterministic rounding, easier
// to reason about under test).
func (x *Exchange) computeIndex() *domain.IndexSnapshot {
	keys := x.symbols.Keys()
	constituents := make([]domain.IndexConstituent, 0, len(keys))

	var valueSum, openSum, highSum, lowSum float64
	n := 0
	for _, symbol := range keys {
		engine, _ := x.symbols.Get(symbol)
		last, ok := engine.LastPrice()
		if !ok {
			continue
		}

		state := x.states[symbol]
		state.mu.Lock()
		open, high, low, volume := state.dayOpen, state.dayHigh, state.dayLow, state.volume
		state.mu.Unlock()
		if open == 0 {
			open = last
			high = last
			low = last
		}

		changePercent := 0.0
		if open > 0 {
			changePercent = (float64(last) - float64(open)) / float64(open) * 100
		}

		constituents = append(constituents, domain.IndexConstituent{
			Symbol:        symbol,
			LastPrice:     last,
			ChangePercent: changePercent,
			Volume:        volume,
		})
		valueSum += float64(last) / float64(open)
		openSum += 1
		highSum += float64(high) / float64(open)
		lowSum += float64(low) / float64(open)
		n++
	}

	snap := &domain.IndexSnapshot{
		Name:         "EQUAL_WEIGHT",
		Constituents: constituents,
		TimestampMs:  domain.NowMs(),
	}
	if n > 0 {
		snap.Value = x.indexBase * valueSum / float64(n)
		snap.DayOpen = x.indexBase
		snap.DayHigh = x.indexBase * highSum / float64(n)
		snap.DayLow = x.indexBase * lowSum / float64(n)
		snap.ChangePoints = snap.Value - snap.DayOpen
		if snap.DayOpen != 0 {
			snap.ChangePercent = snap.ChangePoints / snap.DayOpen * 100
		}
	}
	return snap
}

func (x *Exchange) fanOut(snap *domain.IndexSnapshot) {
	x.subsMu.RLock()
	defer x.subsMu.RUnlock()
	for _, ch := range x.subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: drop rather than block the index worker.
		}
	}
}

func (x *Exchange) closeSubscribers() {
	x.subsMu.Lock()
	defer x.subsMu.Unlock()
	for _, ch := range x.subs {
		close(ch)
	}
	x.subs = nil
}
