// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tradearena/ledger-engine/internal/model"
)

// DefaultTradeLimit is the page size ListTrades applies when the caller
// passes a non-positive limit. Every backend honors it identically.
const DefaultTradeLimit = 50

var (
	// ErrNotFound is returned when a portfolio or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a portfolio for a trader
	// that already has one.
	ErrAlreadyExists = errors.New("store: already exists")
)

// TradeMutation is the atomic unit written by the trade executor: the
// updated portfolio row, the position change, and the immutable trade
// record. Either all three apply or none do.
type TradeMutation struct {
	// Portfolio carries the post-trade cash balance, realized P&L,
	// counters, and total value. Never nil.
	Portfolio *model.Portfolio

	// Position is the post-trade open position for the traded symbol.
	// Nil when ClosePosition is set.
	Position *model.Position

	// ClosePosition deletes the (trader, symbol) position — the sell
	// exhausted the full quantity.
	ClosePosition bool

	// Trade is the immutable execution record. Never nil.
	Trade *model.Trade
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Portfolio ---

	// CreatePortfolio persists a new portfolio. Returns ErrAlreadyExists
	// if the trader already has one.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio retrieves a trader's portfolio.
	GetPortfolio(ctx context.Context, traderID string) (*model.Portfolio, error)

	// --- Positions ---

	// GetPosition retrieves the open position for (trader, symbol).
	GetPosition(ctx context.Context, traderID, symbol string) (*model.Position, error)

	// ListPositions returns all open positions for a trader.
	ListPositions(ctx context.Context, traderID string) ([]model.Position, error)

	// --- Trade commit (the atomicity boundary) ---

	// ApplyTrade applies a trade mutation atomically: portfolio update,
	// position upsert or delete, and trade append all commit together
	// or not at all.
	ApplyTrade(ctx context.Context, mut *TradeMutation) error

	// --- Valuation writes ---

	// UpdateValuation writes refreshed current prices / unrealized P&L
	// for the given positions and the recomputed portfolio totals.
	// Never touches cash_balance.
	UpdateValuation(ctx context.Context, p *model.Portfolio, positions []model.Position) error

	// --- Trade history (append-only) ---

	// ListTrades returns a page of a trader's trades, newest first.
	// A non-positive limit falls back to DefaultTradeLimit.
	ListTrades(ctx context.Context, traderID string, limit, offset int) ([]model.Trade, error)

	// TradeHistory returns a trader's full trade history in execution
	// order. Used by the metrics calculator.
	TradeHistory(ctx context.Context, traderID string) ([]model.Trade, error)
}
