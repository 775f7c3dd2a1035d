package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"equityexchange/account"
	"equityexchange/domain"
	"equityexchange/matching"
	"equityexchange/store"
)

// memStore is a minimal in-memory store.AccountStore, letting these tests
// exercise the full submit → match → settle pipeline without a live
// Postgres instance.
type memStore struct {
	mu   sync.Mutex
	rows map[domain.UserID]store.AccountRow
}

func newMemStore() *memStore { return &memStore{rows: make(map[domain.UserID]store.AccountRow)} }

func (s *memStore) LoadAccount(_ context.Context, userID domain.UserID) (store.AccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return store.AccountRow{}, store.ErrNotFound
	}
	return row, nil
}

func (s *memStore) SaveAccount(_ context.Context, row store.AccountRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.UserID] = row
	return nil
}

// fakeAudit is a SecurityRecorder recording every event, letting tests
// assert which gate rejections are audited without a live Postgres.
type fakeAudit struct {
	mu     sync.Mutex
	events []store.SecurityEvent
}

func (f *fakeAudit) RecordSecurityEvent(_ context.Context, ev store.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
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

// newTestExchange wires a real account.Manager, a single AAPL engine, and
// the exchange coordinator together, seeding alice and bob's accounts.
func newTestExchange(t *testing.T) (*Exchange, *account.Manager) {
	t.Helper()
	accounts := account.NewManager(newMemStore(), zap.NewNop(), 100_000*100)
	ctx := context.Background()
	_, err := accounts.Load(ctx, "alice")
	require.NoError(t, err)
	_, err = accounts.Load(ctx, "bob")
	require.NoError(t, err)

	x := New(accounts, nil, nil, zap.NewNop(), Config{IndexInterval: time.Hour})
	engine := matching.NewEngine(matching.Options{
		Symbol:       "AAPL",
		Reservations: accounts,
		IDs:          matching.NewIDGenerator("E"),
		Logger:       zap.NewNop(),
	})
	x.RegisterSymbol(engine)
	x.Start(ctx)
	t.Cleanup(x.Stop)
	return x, accounts
}

func TestSubmitRejectsUnknownSymbol(t *testing.T) {
	x, _ := newTestExchange(t)
	order := domain.NewOrder("o1", "alice", "MSFT", domain.SideBuy, domain.KindLimit, 10000, 5, domain.NowMs())
	ok, reason := x.Submit(order)
	require.False(t, ok)
	require.Equal(t, domain.RejectUnknownSymbol, reason)
}

func TestSubmitAuditsGateRejectionsNotRoutineFriction(t *testing.T) {
	accounts := account.NewManager(newMemStore(), zap.NewNop(), 100_000*100)
	ctx := context.Background()
	_, err := accounts.Load(ctx, "alice")
	require.NoError(t, err)

	audit := &fakeAudit{}
	x := New(accounts, nil, audit, zap.NewNop(), Config{IndexInterval: time.Hour})
	engine := matching.NewEngine(matching.Options{
		Symbol:       "AAPL",
		Reservations: accounts,
		IDs:          matching.NewIDGenerator("E"),
		Logger:       zap.NewNop(),
	})
	x.RegisterSymbol(engine)
	x.Start(ctx)
	t.Cleanup(x.Stop)

	unknown := domain.NewOrder("o1", "alice", "MSFT", domain.SideBuy, domain.KindLimit, 10000, 5, domain.NowMs())
	ok, reason := x.Submit(unknown)
	require.False(t, ok)
	require.Equal(t, domain.RejectUnknownSymbol, reason)

	tooExpensive := domain.NewOrder("o2", "alice", "AAPL", domain.SideBuy, domain.KindLimit, 1_000_000*100, 1, domain.NowMs())
	ok, reason = x.Submit(tooExpensive)
	require.False(t, ok)
	require.Equal(t, domain.RejectInsufficientBuying, reason)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.events, 1, "only the unknown-symbol gate rejection is audited, not the routine insufficient-funds rejection")
	require.Equal(t, domain.UserID("alice"), audit.events[0].UserID)
	require.Equal(t, string(domain.RejectUnknownSymbol), audit.events[0].Kind)
}

func TestSubmitRejectsInsufficientBuyingPower(t *testing.T) {
	x, _ := newTestExchange(t)
	order := domain.NewOrder("o1", "alice", "AAPL", domain.SideBuy, domain.KindLimit, 1_000_000*100, 1, domain.NowMs())
	ok, reason := x.Submit(order)
	require.False(t, ok)
	require.Equal(t, domain.RejectInsufficientBuying, reason)
}

func TestSubmitRejectsMarketOrderWithoutReferencePrice(t *testing.T) {
	x, _ := newTestExchange(t)
	order := domain.NewOrder("o1", "alice", "AAPL", domain.SideBuy, domain.KindMarket, 0, 5, domain.NowMs())
	ok, reason := x.Submit(order)
	require.False(t, ok)
	require.Equal(t, domain.RejectNoReferencePrice, reason)
}

func TestSubmitMatchesAndSettlesBothAccounts(t *testing.T) {
	x, accounts := newTestExchange(t)

	sell := domain.NewOrder("sell1", "bob", "AAPL", domain.SideSell, domain.KindLimit, 50000, 10, domain.NowMs())
	// bob needs an existing position to reserve a sell against; credit one
	// via a direct trade settlement rather than reaching into Account
	// internals.
	seedBuy := domain.NewOrder("seed-buy", "bob", "AAPL", domain.SideBuy, domain.KindLimit, 10000, 10, domain.NowMs())
	seedSell := domain.NewOrder("seed-sell", "carol", "AAPL", domain.SideSell, domain.KindLimit, 10000, 10, domain.NowMs())
	_, err := accounts.Load(context.Background(), "carol")
	require.NoError(t, err)
	accounts.ApplyTrade(domain.NewTrade("seed", "AAPL", 10000, 10, domain.NowMs(), seedBuy, seedSell))

	ok, reason := x.Submit(sell)
	require.True(t, ok)
	require.Equal(t, domain.RejectNone, reason)

	buy := domain.NewOrder("buy1", "alice", "AAPL", domain.SideBuy, domain.KindLimit, 50000, 10, domain.NowMs())
	ok, reason = x.Submit(buy)
	require.True(t, ok)
	require.Equal(t, domain.RejectNone, reason)

	require.True(t, waitForCondition(func() bool {
		alice, ok := accounts.Snapshot("alice")
		return ok && alice.Positions["AAPL"] == 10
	}, time.Second, time.Millisecond), "alice must be credited shares once the trade settles")

	alice, _ := accounts.Snapshot("alice")
	require.Equal(t, domain.Price(100_000*100-500000), alice.Cash)
	require.Equal(t, domain.Price(0), alice.ReservedCash)

	bob, _ := accounts.Snapshot("bob")
	require.Equal(t, int64(0), bob.Positions["AAPL"], "bob started with 10 from the seed trade and sold all 10")
	require.Equal(t, domain.Price(100_000*100-100000+500000), bob.Cash)
}

func TestCancelForwardsToEngine(t *testing.T) {
	x, _ := newTestExchange(t)
	order := domain.NewOrder("o1", "alice", "AAPL", domain.SideBuy, domain.KindLimit, 40000, 5, domain.NowMs())
	ok, _ := x.Submit(order)
	require.True(t, ok)

	require.True(t, waitForCondition(func() bool {
		s, ok := x.Status("AAPL", "o1")
		return ok && s == domain.StatusOpen
	}, time.Second, time.Millisecond))

	require.True(t, x.Cancel("AAPL", "o1"))
	require.True(t, waitForCondition(func() bool {
		s, ok := x.Status("AAPL", "o1")
		return ok && s == domain.StatusCancelled
	}, time.Second, time.Millisecond))
}

func TestCancelUnknownSymbolReturnsFalse(t *testing.T) {
	x, _ := newTestExchange(t)
	require.False(t, x.Cancel("MSFT", "o1"))
}

func TestSubscribeReceivesIndexSnapshotsAndClosesOnStop(t *testing.T) {
	accounts := account.NewManager(newMemStore(), zap.NewNop(), 100_000*100)
	ctx := context.Background()
	_, err := accounts.Load(ctx, "alice")
	require.NoError(t, err)

	x := New(accounts, nil, nil, zap.NewNop(), Config{IndexInterval: 5 * time.Millisecond})
	engine := matching.NewEngine(matching.Options{
		Symbol:       "AAPL",
		Reservations: accounts,
		IDs:          matching.NewIDGenerator("E"),
		Logger:       zap.NewNop(),
	})
	x.RegisterSymbol(engine)

	ch := x.Subscribe()
	x.Start(ctx)

	select {
	case snap, ok := <-ch:
		require.True(t, ok)
		require.Equal(t, "EQUAL_WEIGHT", snap.Name)
	case <-time.After(time.Second):
		t.Fatal("expected an index snapshot before the timeout")
	}

	x.Stop()
	_, ok := <-ch
	require.False(t, ok, "the channel must be closed once the exchange stops")
}
