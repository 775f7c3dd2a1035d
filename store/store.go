// Package store is the durable-store boundary: the logical schema of
// spec.md §6 (accounts, orders, trades, stocks_master, security_events,
// circuit_breaker_events), realized over database/sql with lib/pq, the
// driver the rest of the retrieved pack reaches for whenever it talks to
// Postgres. Grounded on the connection-pool-plus-table-per-concern shape of
// _examples/original_source/src/core_engine/DatabaseManager.h.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"equityexchange/domain"
)

// ErrNotFound is returned by Load* methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// AccountRow is the accounts table's logical row (spec.md §6). Positions is
// the per-symbol share map; Postgres stores it as jsonb.
type AccountRow struct {
	UserID      domain.UserID
	Cash        domain.Price
	Positions   map[domain.Symbol]int64
	TotalTrades int64
	RealizedPnL float64
	Active      bool
}

// OrderRow is the orders table's logical row.
type OrderRow struct {
	OrderID     domain.OrderID
	UserID      domain.UserID
	Symbol      domain.Symbol
	Side        domain.Side
	Kind        domain.Kind
	Quantity    int64
	Price       domain.Price
	Status      domain.Status
	TimestampMs int64
}

// TradeRow is the trades table's logical row.
type TradeRow struct {
	TradeID     string
	BuyOrderID  domain.OrderID
	SellOrderID domain.OrderID
	Symbol      domain.Symbol
	Price       domain.Price
	Quantity    int64
	BuyUserID   domain.UserID
	SellUserID  domain.UserID
	TimestampMs int64
}

// StockMasterRow is the stocks_master table's logical row.
type StockMasterRow struct {
	Symbol       domain.Symbol
	CompanyName  string
	Sector       string
	InitialPrice domain.Price
	Active       bool
}

// SecurityEvent is an audit record for a rejected or suspicious action.
type SecurityEvent struct {
	UserID      domain.UserID
	Kind        string
	Detail      string
	TimestampMs int64
}

// CircuitBreakerEvent records a per-symbol protective action, such as a
// market order cancelled at its price-protection band.
type CircuitBreakerEvent struct {
	Symbol      domain.Symbol
	Action      string
	Reason      string
	TimestampMs int64
}

// AccountStore is the narrow slice of the durable store the account
// package needs.
type AccountStore interface {
	LoadAccount(ctx context.Context, userID domain.UserID) (AccountRow, error)
	SaveAccount(ctx context.Context, row AccountRow) error
}

// Store is the full durable-store contract: account persistence plus the
// order/trade/master-data/audit tables of spec.md §6's logical schema.
type Store interface {
	AccountStore

	SaveOrder(ctx context.Context, row OrderRow) error
	SaveOrders(ctx context.Context, rows []OrderRow) error
	SaveTrades(ctx context.Context, rows []TradeRow) error

	LoadStockMaster(ctx context.Context, symbol domain.Symbol) (StockMasterRow, error)
	SaveStockMaster(ctx context.Context, row StockMasterRow) error

	RecordSecurityEvent(ctx context.Context, ev SecurityEvent) error
	RecordCircuitBreakerEvent(ctx context.Context, ev CircuitBreakerEvent) error

	Close() error
}

// Postgres is a Store backed by database/sql + lib/pq. Unique constraints
// on order_id and trade_id (spec.md §6) make SaveOrder/SaveTrades
// idempotent under retry.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn and verifies it's reachable.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) LoadAccount(ctx context.Context, userID domain.UserID) (AccountRow, error) {
	var row AccountRow
	var positionsJSON []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id, cash, position_per_symbol, total_trades, realized_pnl, is_active
		 FROM accounts WHERE user_id = $1`, string(userID),
	).Scan(&row.UserID, &row.Cash, &positionsJSON, &row.TotalTrades, &row.RealizedPnL, &row.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountRow{}, ErrNotFound
	}
	if err != nil {
		return AccountRow{}, fmt.Errorf("store: load account: %w", err)
	}
	row.Positions, err = decodePositions(positionsJSON)
	if err != nil {
		return AccountRow{}, fmt.Errorf("store: decode positions: %w", err)
	}
	return row, nil
}

func (p *Postgres) SaveAccount(ctx context.Context, row AccountRow) error {
	positionsJSON, err := encodePositions(row.Positions)
	if err != nil {
		return fmt.Errorf("store: encode positions: %w", err)
	}
	buyingPower := row.Cash
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, cash, position_per_symbol, buying_power, total_trades, realized_pnl, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			cash = EXCLUDED.cash,
			position_per_symbol = EXCLUDED.position_per_symbol,
			buying_power = EXCLUDED.buying_power,
			total_trades = EXCLUDED.total_trades,
			realized_pnl = EXCLUDED.realized_pnl,
			is_active = EXCLUDED.is_active`,
		string(row.UserID), int64(row.Cash), positionsJSON, int64(buyingPower), row.TotalTrades, row.RealizedPnL, row.Active)
	if err != nil {
		return fmt.Errorf("store: save account: %w", err)
	}
	return nil
}

func (p *Postgres) SaveOrder(ctx context.Context, row OrderRow) error {
	return p.SaveOrders(ctx, []OrderRow{row})
}

func (p *Postgres) SaveOrders(ctx context.Context, rows []OrderRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (order_id, user_id, symbol, side, kind, quantity, price, status, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status`)
	if err != nil {
		return fmt.Errorf("store: prepare order insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, string(r.OrderID), string(r.UserID), string(r.Symbol),
			r.Side.String(), r.Kind.String(), r.Quantity, int64(r.Price), r.Status.String(), r.TimestampMs); err != nil {
			return fmt.Errorf("store: insert order: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) SaveTrades(ctx context.Context, rows []TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (trade_id, buy_order_id, sell_order_id, symbol, price, quantity, buy_user_id, sell_user_id, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trade_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TradeID, string(r.BuyOrderID), string(r.SellOrderID),
			string(r.Symbol), int64(r.Price), r.Quantity, string(r.BuyUserID), string(r.SellUserID), r.TimestampMs); err != nil {
			return fmt.Errorf("store: insert trade: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) LoadStockMaster(ctx context.Context, symbol domain.Symbol) (StockMasterRow, error) {
	var row StockMasterRow
	err := p.db.QueryRowContext(ctx,
		`SELECT symbol, company_name, sector, initial_price, is_active FROM stocks_master WHERE symbol = $1`,
		string(symbol),
	).Scan(&row.Symbol, &row.CompanyName, &row.Sector, &row.InitialPrice, &row.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return StockMasterRow{}, ErrNotFound
	}
	if err != nil {
		return StockMasterRow{}, fmt.Errorf("store: load stock master: %w", err)
	}
	return row, nil
}

func (p *Postgres) SaveStockMaster(ctx context.Context, row StockMasterRow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO stocks_master (symbol, company_name, sector, initial_price, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			sector = EXCLUDED.sector,
			initial_price = EXCLUDED.initial_price,
			is_active = EXCLUDED.is_active`,
		string(row.Symbol), row.CompanyName, row.Sector, int64(row.InitialPrice), row.Active)
	if err != nil {
		return fmt.Errorf("store: save stock master: %w", err)
	}
	return nil
}

// RecordSecurityEvent and RecordCircuitBreakerEvent flow through a
// synchronous path (spec.md §4.6): both are low-rate and audit-critical, so
// they never go through the batched persistence worker.
func (p *Postgres) RecordSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO security_events (user_id, kind, detail, timestamp_ms) VALUES ($1, $2, $3, $4)`,
		string(ev.UserID), ev.Kind, ev.Detail, ev.TimestampMs)
	if err != nil {
		return fmt.Errorf("store: record security event: %w", err)
	}
	return nil
}

func (p *Postgres) RecordCircuitBreakerEvent(ctx context.Context, ev CircuitBreakerEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO circuit_breaker_events (symbol, action, reason, timestamp_ms) VALUES ($1, $2, $3, $4)`,
		string(ev.Symbol), ev.Action, ev.Reason, ev.TimestampMs)
	if err != nil {
		return fmt.Errorf("store: record circuit breaker event: %w", err)
	}
	return nil
}
