package orderbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"equityexchange/domain"
)

func newResting(id domain.OrderID, side domain.Side, price domain.Price, qty int64) *domain.Order {
	o := domain.NewOrder(id, "user1", "AAPL", side, domain.KindLimit, price, qty, domain.NowMs())
	o.RemainingQty = qty
	return o
}

func TestInsertTracksBestBidAsk(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 50000, 10)))
	ask, ok := b.BestAsk()
	require.True(t, ok)
	require.Equal(t, domain.Price(50000), ask)

	require.NoError(t, b.Insert(newResting("buy1", domain.SideBuy, 49000, 10)))
	bid, ok := b.BestBid()
	require.True(t, ok)
	require.Equal(t, domain.Price(49000), bid)
}

func TestRemoveClearsEmptyLevel(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 50000, 10)))

	require.True(t, b.Remove("sell1"))
	_, ok := b.BestAsk()
	require.False(t, ok, "best ask should be empty after removing the only resting order")

	require.False(t, b.Remove("sell1"), "removing an already-removed order reports false")
}

func TestPricePriority(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 51000, 10)))
	require.NoError(t, b.Insert(newResting("sell2", domain.SideSell, 50000, 10)))
	require.NoError(t, b.Insert(newResting("sell3", domain.SideSell, 52000, 10)))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	require.Equal(t, domain.Price(50000), ask, "best ask must be the lowest resting sell price")
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New("AAPL")
	first := newResting("first", domain.SideSell, 50000, 5)
	second := newResting("second", domain.SideSell, 50000, 5)
	require.NoError(t, b.Insert(first))
	require.NoError(t, b.Insert(second))

	var seen []domain.OrderID
	b.WalkMatchable(domain.SideSell, func(domain.Price) bool { return true }, "", func(maker *domain.Order) bool {
		seen = append(seen, maker.ID)
		return false
	})
	require.Equal(t, []domain.OrderID{"first", "second"}, seen, "time priority within a level must be FIFO")
}

func TestDepthLimit(t *testing.T) {
	b := NewWithDepth("AAPL", 2)
	require.NoError(t, b.Insert(newResting("s1", domain.SideSell, 50000, 1)))
	require.NoError(t, b.Insert(newResting("s2", domain.SideSell, 50001, 1)))
	require.ErrorIs(t, b.Insert(newResting("s3", domain.SideSell, 50002, 1)), ErrDepthLimit)
}

func TestCrossedDetection(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("buy1", domain.SideBuy, 51000, 1)))
	require.False(t, b.Crossed(), "book with only a bid side can never be crossed")

	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 49000, 1)))
	require.True(t, b.Crossed(), "bid above ask must be reported as crossed")
}

func TestDepthSnapshotOrdered(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 50000, 10)))
	require.NoError(t, b.Insert(newResting("sell2", domain.SideSell, 50100, 20)))
	require.NoError(t, b.Insert(newResting("sell3", domain.SideSell, 50200, 30)))

	_, asks := b.Depth(2)
	require.Len(t, asks, 2)
	require.Equal(t, domain.Price(50000), asks[0].Price)
	require.Equal(t, domain.Price(50100), asks[1].Price)
	require.Equal(t, int64(10), asks[0].Quantity)
}

func TestTotalQuantityAtLevel(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 50000, 10)))
	require.NoError(t, b.Insert(newResting("sell2", domain.SideSell, 50000, 15)))

	sum, live, ok := b.TotalQuantityAtLevel(domain.SideSell, 50000)
	require.True(t, ok)
	require.Equal(t, int64(25), sum)
	require.Equal(t, 2, live)
}

func TestWalkMatchableExcludesSelfUser(t *testing.T) {
	b := New("AAPL")
	own := domain.NewOrder("sell-self", "same-user", "AAPL", domain.SideSell, domain.KindLimit, 50000, 5, domain.NowMs())
	own.RemainingQty = 5
	other := newResting("sell-other", domain.SideSell, 50000, 5)
	require.NoError(t, b.Insert(own))
	require.NoError(t, b.Insert(other))

	var seen []domain.OrderID
	b.WalkMatchable(domain.SideSell, func(domain.Price) bool { return true }, "same-user", func(maker *domain.Order) bool {
		seen = append(seen, maker.ID)
		return false
	})
	require.Equal(t, []domain.OrderID{"sell-other"}, seen, "self-trade candidates must be skipped, not matched")
}

func TestDrainReturnsAllRestingOrders(t *testing.T) {
	b := New("AAPL")
	require.NoError(t, b.Insert(newResting("buy1", domain.SideBuy, 49000, 1)))
	require.NoError(t, b.Insert(newResting("sell1", domain.SideSell, 51000, 1)))

	drained := b.Drain()
	require.Len(t, drained, 2)
	_, ok := b.Get("buy1")
	require.False(t, ok, "Drain must remove every order from the book")
}
