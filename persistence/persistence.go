// Package persistence implements the batching persistence worker of
// spec.md §4.6: a bounded MPSC queue absorbing OrderEvent/TradeEvent
// records from any thread, coalesced into batches of up to N. A batch is
// committed as up to two transactions, one for its orders and one for its
// trades, so it is not atomic across the two. The matching hot path enqueues into
// this queue and never blocks on the database. Grounded on the teacher's
// queue.MPSC for the ingress side and on
// _examples/original_source/src/core_engine/DatabaseManager.h's batched
// write-behind for the commit strategy.
package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/queue"
	"equityexchange/store"
)

// DefaultQueueCapacity is the bounded event queue's depth.
const DefaultQueueCapacity = 1 << 15

// DefaultBatchSize is N in spec.md §4.6: the largest single transaction the
// worker will commit.
const DefaultBatchSize = 100

// DefaultFlushInterval bounds how long an incomplete batch waits before it
// is committed anyway, so a quiet period never leaves events unpersisted
// indefinitely.
const DefaultFlushInterval = 200 * time.Millisecond

type eventKind uint8

const (
	eventOrder eventKind = iota
	eventTrade
)

type event struct {
	kind  eventKind
	order store.OrderRow
	trade store.TradeRow
}

// Worker drains order/trade events and commits them in batches. It
// satisfies exchange.Persistence.
type Worker struct {
	store  store.Store
	logger *zap.Logger

	batchSize int
	interval  time.Duration

	queue *queue.MPSC[event]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker constructs a persistence Worker backed by st. capacity must be
// a power of two; pass 0 for DefaultQueueCapacity.
func NewWorker(st store.Store, logger *zap.Logger, capacity, batchSize int, interval time.Duration) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Worker{
		store:     st,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		queue:     queue.NewMPSC[event](capacity),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// EnqueueOrder snapshots order's current fields and enqueues them for
// persistence. Drop-and-log on a full queue (spec.md §4.6); never blocks.
func (w *Worker) EnqueueOrder(order *domain.Order) {
	row := store.OrderRow{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Kind:        order.Kind,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Status:      order.Status,
		TimestampMs: order.TimestampMs,
	}
	if !w.queue.TryPublish(event{kind: eventOrder, order: row}) {
		w.logger.Warn("order event dropped, queue full", zap.String("order_id", string(order.ID)))
	}
}

// EnqueueTrade snapshots trade's current fields and enqueues them for
// persistence. Drop-and-log on a full queue.
func (w *Worker) EnqueueTrade(trade *domain.Trade) {
	row := store.TradeRow{
		TradeID:     trade.ID,
		BuyOrderID:  trade.BuyOrderID,
		SellOrderID: trade.SellOrderID,
		Symbol:      trade.Symbol,
		Price:       trade.Price,
		Quantity:    trade.Quantity,
		BuyUserID:   trade.BuyUserID,
		SellUserID:  trade.SellUserID,
		TimestampMs: trade.TimestampMs,
	}
	if !w.queue.TryPublish(event{kind: eventTrade, trade: row}) {
		w.logger.Warn("trade event dropped, queue full", zap.String("trade_id", trade.ID))
	}
}

// Run drains the queue until ctx is done, committing batches of up to
// batchSize or whenever interval elapses since the last commit, whichever
// comes first. Intended to run on its own dedicated goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	consumer := w.queue.NewConsumer()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var orders []store.OrderRow
	var trades []store.TradeRow

	flush := func() {
		if len(orders) == 0 && len(trades) == 0 {
			return
		}
		if len(orders) > 0 {
			if err := w.store.SaveOrders(ctx, orders); err != nil {
				w.logger.Error("order batch commit failed", zap.Error(err), zap.Int("count", len(orders)))
			}
			orders = orders[:0]
		}
		if len(trades) > 0 {
			if err := w.store.SaveTrades(ctx, trades); err != nil {
				w.logger.Error("trade batch commit failed", zap.Error(err), zap.Int("count", len(trades)))
			}
			trades = trades[:0]
		}
	}

	for {
		ev, ok := consumer.TryConsume()
		if !ok {
			select {
			case <-w.stopCh:
				flush()
				return
			case <-ctx.Done():
				flush()
				return
			case <-ticker.C:
				flush()
			default:
				time.Sleep(time.Millisecond)
			}
			continue
		}

		switch ev.kind {
		case eventOrder:
			orders = append(orders, ev.order)
		case eventTrade:
			trades = append(trades, ev.trade)
		}
		if len(orders)+len(trades) >= w.batchSize {
			flush()
		}
	}
}

// Stop signals Run to flush and exit, and blocks until it has.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}
