// Package account implements the per-user Account, the per-order
// Reservation, and the AccountManager that satisfies matching.ReservationPort
// for every symbol's engine — the pre-trade risk gate described in spec.md
// §4.3. Grounded on the account/reservation bookkeeping in
// _examples/original_source/src/api/AuthenticationManager.h, generalized
// from that source's five fixed per-symbol atomic fields (aapl_qty,
// googl_qty, ...) to a map keyed by symbol, and on the teacher's own
// mutex-per-entity style in matching/engine.go.
package account

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/store"
)

// DefaultInitialCash is the balance a brand-new account is seeded with,
// taken from the default parameter of the source's
// DatabaseManager::createUserAccount.
const DefaultInitialCash domain.Price = 100_000 * 100 // $100,000 in cents.

// Account is one user's cash and share positions. Every field access goes
// through the owning Manager's per-account lock; Account itself has no
// internal synchronization.
type Account struct {
	UserID       domain.UserID
	Cash         domain.Price
	ReservedCash domain.Price
	Positions    map[domain.Symbol]int64
	Reserved     map[domain.Symbol]int64
	TotalTrades  int64
	RealizedPnL  float64
	Active       bool

	dirty bool
}

func newAccount(userID domain.UserID, initialCash domain.Price) *Account {
	return &Account{
		UserID:       userID,
		Cash:         initialCash,
		ReservedCash: 0,
		Positions:    make(map[domain.Symbol]int64),
		Reserved:     make(map[domain.Symbol]int64),
		Active:       true,
		dirty:        true,
	}
}

// BuyingPower is cash not already held by a live reservation.
func (a *Account) BuyingPower() domain.Price {
	return a.Cash - a.ReservedCash
}

// AvailableShares is a symbol's position not already held by a live
// reservation.
func (a *Account) AvailableShares(symbol domain.Symbol) int64 {
	return a.Positions[symbol] - a.Reserved[symbol]
}

// Reservation is the hold an order places against its user's account,
// released exactly once the order reaches a terminal state. spec.md §3
// binds at most one reservation to a live order.
type Reservation struct {
	OrderID          domain.OrderID
	UserID           domain.UserID
	Symbol           domain.Symbol
	Side             domain.Side
	PriceUsed        domain.Price
	ReservedCash     domain.Price
	ReservedQuantity int64
}

type entry struct {
	mu      sync.Mutex
	account *Account
}

// Manager is the AccountManager + Reservation Ledger of spec.md §4.3. It
// satisfies matching.ReservationPort for every engine it is wired to; only
// the exchange coordinator calls Reserve (before an order is ever
// enqueued), engines call Release, and the exchange's trade publisher is
// the sole caller of ApplyTrade.
type Manager struct {
	store       store.AccountStore
	logger      *zap.Logger
	initialCash domain.Price

	accountsMu sync.RWMutex
	accounts   map[domain.UserID]*entry

	// ledgerMu is the single process-wide reservation-ledger lock,
	// acquired strictly after any account lock (spec.md §5's fixed lock
	// order).
	ledgerMu     sync.Mutex
	reservations map[domain.OrderID]*Reservation
}

// NewManager constructs a Manager backed by store for account persistence.
func NewManager(st store.AccountStore, logger *zap.Logger, initialCash domain.Price) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initialCash <= 0 {
		initialCash = DefaultInitialCash
	}
	return &Manager{
		store:        st,
		logger:       logger,
		initialCash:  initialCash,
		accounts:     make(map[domain.UserID]*entry),
		reservations: make(map[domain.OrderID]*Reservation),
	}
}

// Load ensures userID's account is resident in memory, loading it from the
// durable store or creating it with the configured initial cash balance if
// absent (spec.md §4.3's account lifecycle). Safe to call repeatedly; I/O
// only happens on the first call for a given user.
func (m *Manager) Load(ctx context.Context, userID domain.UserID) (*Account, error) {
	if e := m.lookup(userID); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.account, nil
	}

	row, err := m.store.LoadAccount(ctx, userID)
	var acct *Account
	switch {
	case err == store.ErrNotFound:
		acct = newAccount(userID, m.initialCash)
		if err := m.store.SaveAccount(ctx, toRow(acct)); err != nil {
			m.logger.Warn("persist new account failed", zap.String("user_id", string(userID)), zap.Error(err))
		}
	case err != nil:
		return nil, err
	default:
		acct = fromRow(row)
	}

	m.accountsMu.Lock()
	e, exists := m.accounts[userID]
	if !exists {
		e = &entry{account: acct}
		m.accounts[userID] = e
	}
	m.accountsMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account, nil
}

func (m *Manager) lookup(userID domain.UserID) *entry {
	m.accountsMu.RLock()
	e := m.accounts[userID]
	m.accountsMu.RUnlock()
	return e
}

// Reserve implements matching.ReservationPort. Called by the exchange
// coordinator at submit time, before the order is enqueued to its symbol's
// engine (spec.md §4.4).
func (m *Manager) Reserve(order *domain.Order, effectivePrice domain.Price) (domain.RejectReason, bool) {
	e := m.lookup(order.UserID)
	if e == nil {
		return domain.RejectInvalidOrder, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account
	if !acct.Active {
		return domain.RejectInvalidOrder, false
	}

	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	if _, dup := m.reservations[order.ID]; dup {
		return domain.RejectDuplicateID, false
	}

	r := &Reservation{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		PriceUsed: effectivePrice,
	}

	if order.Side == domain.SideBuy {
		if effectivePrice <= 0 {
			return domain.RejectInvalidOrder, false
		}
		if order.Quantity > math.MaxInt64/int64(effectivePrice) {
			return domain.RejectInvalidOrder, false
		}
		need := effectivePrice * domain.Price(order.Quantity)
		if acct.BuyingPower() < need {
			return domain.RejectInsufficientBuying, false
		}
		acct.ReservedCash += need
		r.ReservedCash = need
	} else {
		if acct.AvailableShares(order.Symbol) < order.Quantity {
			return domain.RejectInsufficientShares, false
		}
		acct.Reserved[order.Symbol] += order.Quantity
		r.ReservedQuantity = order.Quantity
	}

	m.reservations[order.ID] = r
	acct.dirty = true
	return domain.RejectNone, true
}

// Release implements matching.ReservationPort. A missing reservation is a
// no-op, per spec.md §4.3.
func (m *Manager) Release(orderID domain.OrderID, symbol domain.Symbol, reason domain.ReleaseReason) {
	m.ledgerMu.Lock()
	r, ok := m.reservations[orderID]
	if ok {
		delete(m.reservations, orderID)
	}
	m.ledgerMu.Unlock()
	if !ok {
		return
	}

	e := m.lookup(r.UserID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account
	if r.Side == domain.SideBuy {
		acct.ReservedCash -= r.ReservedCash
		if acct.ReservedCash < 0 {
			acct.ReservedCash = 0
		}
	} else {
		acct.Reserved[symbol] -= r.ReservedQuantity
		if acct.Reserved[symbol] < 0 {
			acct.Reserved[symbol] = 0
		}
	}
	acct.dirty = true
	_ = reason // carried for audit logging by a caller that wraps Release, not needed for the balance math itself.
}

// ApplyTrade implements matching.ReservationPort. Per spec.md §4.4 it is
// invoked exactly once per trade, by the exchange's trade-publisher
// goroutine draining the producing engine's trade queue — never inline on
// the matching goroutine itself (spec.md §9's double-callback note).
func (m *Manager) ApplyTrade(trade *domain.Trade) {
	buyerFirst := trade.BuyUserID <= trade.SellUserID
	first, second := trade.BuyUserID, trade.SellUserID
	if !buyerFirst {
		first, second = second, first
	}

	firstEntry := m.lookup(first)
	secondEntry := m.lookup(second)
	if firstEntry == nil || secondEntry == nil {
		m.logger.Error("apply_trade on unknown account",
			zap.String("buy_user_id", string(trade.BuyUserID)),
			zap.String("sell_user_id", string(trade.SellUserID)))
		return
	}

	// Canonical lock order (lexicographic user id) across the two accounts
	// prevents deadlock against a concurrent trade touching the same pair
	// in the opposite role (spec.md §5).
	firstEntry.mu.Lock()
	if firstEntry != secondEntry {
		secondEntry.mu.Lock()
	}
	m.ledgerMu.Lock()

	value := trade.Price * domain.Price(trade.Quantity)

	buyerEntry, sellerEntry := firstEntry, secondEntry
	if !buyerFirst {
		buyerEntry, sellerEntry = secondEntry, firstEntry
	}
	buyer, seller := buyerEntry.account, sellerEntry.account

	m.settle(buyer, trade.BuyOrderID, domain.SideBuy, trade.Symbol, value, trade.Quantity)
	m.settle(seller, trade.SellOrderID, domain.SideSell, trade.Symbol, value, trade.Quantity)

	buyer.Cash -= value
	buyer.Positions[trade.Symbol] += trade.Quantity
	buyer.TotalTrades++
	buyer.dirty = true

	seller.Cash += value
	seller.Positions[trade.Symbol] -= trade.Quantity
	seller.TotalTrades++
	seller.dirty = true

	m.ledgerMu.Unlock()
	if firstEntry != secondEntry {
		secondEntry.mu.Unlock()
	}
	firstEntry.mu.Unlock()
}

// settle consumes the matching reservation's residual for one side of a
// trade, clamped to what remains (spec.md §4.3). Caller holds both the
// account lock and ledgerMu.
func (m *Manager) settle(acct *Account, orderID domain.OrderID, side domain.Side, symbol domain.Symbol, value domain.Price, qty int64) {
	r, ok := m.reservations[orderID]
	if !ok {
		return
	}
	if side == domain.SideBuy {
		consume := value
		if consume > r.ReservedCash {
			consume = r.ReservedCash
		}
		r.ReservedCash -= consume
		acct.ReservedCash -= consume
		if acct.ReservedCash < 0 {
			acct.ReservedCash = 0
		}
	} else {
		consume := qty
		if consume > r.ReservedQuantity {
			consume = r.ReservedQuantity
		}
		r.ReservedQuantity -= consume
		acct.Reserved[symbol] -= consume
		if acct.Reserved[symbol] < 0 {
			acct.Reserved[symbol] = 0
		}
	}
	if r.ReservedCash == 0 && r.ReservedQuantity == 0 {
		delete(m.reservations, orderID)
	}
}

// Snapshot returns a copy of userID's account, for read-only callers (wire
// responses, status queries). Returns false if the account is not resident.
func (m *Manager) Snapshot(userID domain.UserID) (Account, bool) {
	e := m.lookup(userID)
	if e == nil {
		return Account{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.account
	cp.Positions = cloneInt64Map(e.account.Positions)
	cp.Reserved = cloneInt64Map(e.account.Reserved)
	return cp, true
}

func cloneInt64Map(m map[domain.Symbol]int64) map[domain.Symbol]int64 {
	out := make(map[domain.Symbol]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FlushDirty persists every account mutated since the last flush. Called
// periodically (~30s) and once more during shutdown, per spec.md §4.3.
func (m *Manager) FlushDirty(ctx context.Context) {
	m.accountsMu.RLock()
	entries := make([]*entry, 0, len(m.accounts))
	for _, e := range m.accounts {
		entries = append(entries, e)
	}
	m.accountsMu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if !e.account.dirty {
			e.mu.Unlock()
			continue
		}
		row := toRow(e.account)
		e.account.dirty = false
		e.mu.Unlock()

		if err := m.store.SaveAccount(ctx, row); err != nil {
			m.logger.Warn("account flush failed", zap.String("user_id", string(row.UserID)), zap.Error(err))
			e.mu.Lock()
			e.account.dirty = true
			e.mu.Unlock()
		}
	}
}

// RunFlushLoop blocks, flushing dirty accounts every interval until ctx is
// done, performing one final flush before returning.
func (m *Manager) RunFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.FlushDirty(context.Background())
			return
		case <-ticker.C:
			m.FlushDirty(ctx)
		}
	}
}

func toRow(a *Account) store.AccountRow {
	return store.AccountRow{
		UserID:      a.UserID,
		Cash:        a.Cash,
		Positions:   cloneInt64Map(a.Positions),
		TotalTrades: a.TotalTrades,
		RealizedPnL: a.RealizedPnL,
		Active:      a.Active,
	}
}

func fromRow(row store.AccountRow) *Account {
	positions := row.Positions
	if positions == nil {
		positions = make(map[domain.Symbol]int64)
	}
	return &Account{
		UserID:      row.UserID,
		Cash:        row.Cash,
		Positions:   positions,
		Reserved:    make(map[domain.Symbol]int64),
		TotalTrades: row.TotalTrades,
		RealizedPnL: row.RealizedPnL,
		Active:      row.Active,
	}
}
