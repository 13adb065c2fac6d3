// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// TradeStatus is the terminal status of a trade record.
type TradeStatus string

const (
	TradeCompleted TradeStatus = "COMPLETED"
)

// Portfolio is a trader's cash ledger and aggregate P&L record.
// One per trader, created once with an immutable starting balance.
// CashBalance is never negative.
type Portfolio struct {
	ID              string          `json:"id" db:"id"`
	TraderID        string          `json:"trader_id" db:"trader_id"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	CashBalance     decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalValue      decimal.Decimal `json:"total_value" db:"total_value"`
	RealizedPL      decimal.Decimal `json:"realized_pl" db:"realized_pl"`
	TotalPLPct      decimal.Decimal `json:"total_pl_pct" db:"total_pl_pct"`
	TotalTrades     int64           `json:"total_trades" db:"total_trades"`
	WinningTrades   int64           `json:"winning_trades" db:"winning_trades"`
	LosingTrades    int64           `json:"losing_trades" db:"losing_trades"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is an open holding of one symbol for one trader.
// At most one open position per (trader, symbol). AvgPrice is the
// quantity-weighted average of all buy fills and is never changed by
// sells. The record is deleted when quantity reaches exactly zero; a
// later buy of the same symbol creates a fresh position with a fresh
// cost basis, never reopens the old one.
type Position struct {
	TraderID        string          `json:"trader_id" db:"trader_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Quantity        int64           `json:"quantity" db:"quantity"`
	AvgPrice        decimal.Decimal `json:"avg_price" db:"avg_price"`
	CurrentPrice    decimal.Decimal `json:"current_price" db:"current_price"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl" db:"unrealized_pl"`
	UnrealizedPLPct decimal.Decimal `json:"unrealized_pl_pct" db:"unrealized_pl_pct"`
	OpenedAt        time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// MarketValue returns quantity × current_price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// Trade is an immutable record of one execution. Once written it is
// never modified or deleted. RealizedPL is set only for SELL.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	TraderID   string          `json:"trader_id" db:"trader_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       Side            `json:"side" db:"side"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Fee        decimal.Decimal `json:"fee" db:"fee"`
	Total      decimal.Decimal `json:"total" db:"total"` // price×qty+fee for BUY, price×qty−fee for SELL
	RealizedPL decimal.Decimal `json:"realized_pl" db:"realized_pl"`
	Status     TradeStatus     `json:"status" db:"status"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Quote is a point-in-time price snapshot from the quote source.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// PortfolioValue is the read-only valuation snapshot produced by the
// valuation calculator: cash + mark-to-market positions + P&L breakdown.
type PortfolioValue struct {
	TraderID      string          `json:"trader_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	RealizedPL    decimal.Decimal `json:"realized_pl"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	TotalPL       decimal.Decimal `json:"total_pl"`
	TotalPLPct    decimal.Decimal `json:"total_pl_pct"`
	PositionCount int             `json:"position_count"`
}

// PerformanceMetrics aggregates the full trade history of one trader.
type PerformanceMetrics struct {
	TraderID      string          `json:"trader_id"`
	TotalTrades   int64           `json:"total_trades"`
	BuyTrades     int64           `json:"buy_trades"`
	SellTrades    int64           `json:"sell_trades"`
	WinningTrades int64           `json:"winning_trades"`
	LosingTrades  int64           `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"` // winning sells / sells × 100; zero when no sells
	TotalFeesPaid decimal.Decimal `json:"total_fees_paid"`
	RealizedPL    decimal.Decimal `json:"realized_pl"`
}
