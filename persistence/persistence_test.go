package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/store"
)

// fakeStore is a minimal in-memory store.Store recording every batch commit,
// so the worker's batching/flush behavior can be exercised without a live
// Postgres instance.
type fakeStore struct {
	mu     sync.Mutex
	orders []store.OrderRow
	trades []store.TradeRow
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) LoadAccount(context.Context, domain.UserID) (store.AccountRow, error) {
	return store.AccountRow{}, store.ErrNotFound
}
func (s *fakeStore) SaveAccount(context.Context, store.AccountRow) error { return nil }

func (s *fakeStore) SaveOrder(ctx context.Context, row store.OrderRow) error {
	return s.SaveOrders(ctx, []store.OrderRow{row})
}

func (s *fakeStore) SaveOrders(_ context.Context, rows []store.OrderRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, rows...)
	return nil
}

func (s *fakeStore) SaveTrades(_ context.Context, rows []store.TradeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rows...)
	return nil
}

func (s *fakeStore) LoadStockMaster(context.Context, domain.Symbol) (store.StockMasterRow, error) {
	return store.StockMasterRow{}, store.ErrNotFound
}
func (s *fakeStore) SaveStockMaster(context.Context, store.StockMasterRow) error { return nil }

func (s *fakeStore) RecordSecurityEvent(context.Context, store.SecurityEvent) error { return nil }
func (s *fakeStore) RecordCircuitBreakerEvent(context.Context, store.CircuitBreakerEvent) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *fakeStore) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func waitForCondition(condition func() bool, timeout, checkInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(checkInterval)
	}
	return false
}

func TestWorkerFlushesOnBatchSizeThreshold(t *testing.T) {
	st := newFakeStore()
	w := NewWorker(st, zap.NewNop(), 16, 4, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Stop()

	for i := 0; i < 4; i++ {
		w.EnqueueOrder(&domain.Order{ID: domain.OrderID("o"), Symbol: "AAPL"})
	}

	require.True(t, waitForCondition(func() bool {
		return st.orderCount() == 4
	}, time.Second, time.Millisecond), "a full batch must flush without waiting for the interval timer")
}

func TestWorkerFlushesOnIntervalWhenBatchIncomplete(t *testing.T) {
	st := newFakeStore()
	w := NewWorker(st, zap.NewNop(), 16, 100, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Stop()

	w.EnqueueTrade(&domain.Trade{ID: "t1", Symbol: "AAPL"})

	require.True(t, waitForCondition(func() bool {
		return st.tradeCount() == 1
	}, time.Second, time.Millisecond), "an incomplete batch must still flush once the interval elapses")
}

func TestWorkerStopFlushesPendingEvents(t *testing.T) {
	st := newFakeStore()
	w := NewWorker(st, zap.NewNop(), 16, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.EnqueueOrder(&domain.Order{ID: domain.OrderID("o1"), Symbol: "AAPL"})
	w.EnqueueTrade(&domain.Trade{ID: "t1", Symbol: "AAPL"})

	w.Stop()

	require.Equal(t, 1, st.orderCount())
	require.Equal(t, 1, st.tradeCount())
}

func TestEnqueueDropsSilentlyWhenQueueFull(t *testing.T) {
	st := newFakeStore()
	// Capacity 1 (itself a power of two, as NewMPSC requires) with no
	// running consumer: the second enqueue must not block or panic.
	w := NewWorker(st, zap.NewNop(), 1, 100, time.Hour)
	w.EnqueueOrder(&domain.Order{ID: domain.OrderID("o1"), Symbol: "AAPL"})
	w.EnqueueOrder(&domain.Order{ID: domain.OrderID("o2"), Symbol: "AAPL"})
}
