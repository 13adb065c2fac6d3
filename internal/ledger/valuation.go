package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/market"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

// Valuer recomputes mark-to-market values and performance statistics.
// Read-mostly: its only writes are current prices, unrealized P&L, and
// portfolio total_value — never cash_balance, never trades.
type Valuer struct {
	store  store.Store
	quotes market.QuoteSource
	locks  *traderLocks
}

// NewValuer creates a valuation calculator sharing the executor's
// per-trader locks for its final store write.
func NewValuer(st store.Store, quotes market.QuoteSource, locks *traderLocks) *Valuer {
	return &Valuer{store: st, quotes: quotes, locks: locks}
}

// UpdatePositionValues batch-fetches quotes for all open symbols, rewrites
// each position's current price and unrealized P&L, and recomputes the
// portfolio's total value. Symbols without a fresh quote keep their last
// known price. Called on a schedule and before reporting reads.
func (v *Valuer) UpdatePositionValues(ctx context.Context, traderID string) (*model.PortfolioValue, error) {
	// The symbol set for the quote fetch may be slightly stale; that only
	// costs an extra quote or misses a brand-new symbol until the next
	// refresh. Quote fetch happens outside any lock.
	positions, err := v.store.ListPositions(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", traderID, err)
	}
	symbols := make([]string, len(positions))
	for i := range positions {
		symbols[i] = positions[i].Symbol
	}
	quotes, err := v.quotes.FetchPrices(ctx, symbols)
	if err != nil {
		slog.Warn("valuation quote fetch failed, keeping last prices", "trader", traderID, "err", err)
		quotes = map[string]*model.Quote{}
	}

	lock := v.locks.get(traderID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read everything under the lock: a trade may have landed during
	// the quote fetch, moving cash and closing or resizing positions.
	// Marks are computed from the committed quantities only.
	portfolio, err := v.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}
	positions, err = v.store.ListPositions(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", traderID, err)
	}

	now := time.Now().UTC()
	for i := range positions {
		p := &positions[i]
		price := p.CurrentPrice
		if q, ok := quotes[p.Symbol]; ok {
			price = q.Price
		}
		markPosition(p, price, now)
	}

	snapshot := buildSnapshot(portfolio, positions)
	portfolio.TotalValue = snapshot.TotalValue
	portfolio.TotalPLPct = snapshot.TotalPLPct
	portfolio.UpdatedAt = now

	if err := v.store.UpdateValuation(ctx, portfolio, positions); err != nil {
		return nil, fmt.Errorf("write valuation %s: %w", traderID, err)
	}
	return snapshot, nil
}

// PortfolioValue is a read-only snapshot: cash, position value, realized /
// unrealized / total P&L, and position count. No state is written.
func (v *Valuer) PortfolioValue(ctx context.Context, traderID string) (*model.PortfolioValue, error) {
	portfolio, err := v.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}
	positions, err := v.store.ListPositions(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", traderID, err)
	}
	return buildSnapshot(portfolio, positions), nil
}

// PerformanceMetrics aggregates the full trade history: counts by side,
// win rate over closed sells, and total fees paid.
func (v *Valuer) PerformanceMetrics(ctx context.Context, traderID string) (*model.PerformanceMetrics, error) {
	portfolio, err := v.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}
	trades, err := v.store.TradeHistory(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("trade history %s: %w", traderID, err)
	}

	m := &model.PerformanceMetrics{
		TraderID:      traderID,
		TotalTrades:   int64(len(trades)),
		WinningTrades: portfolio.WinningTrades,
		LosingTrades:  portfolio.LosingTrades,
		RealizedPL:    portfolio.RealizedPL,
		WinRate:       decimal.Zero,
		TotalFeesPaid: decimal.Zero,
	}
	var winningSells int64
	for i := range trades {
		t := &trades[i]
		m.TotalFeesPaid = m.TotalFeesPaid.Add(t.Fee)
		switch t.Side {
		case model.SideBuy:
			m.BuyTrades++
		case model.SideSell:
			m.SellTrades++
			if t.RealizedPL.IsPositive() {
				winningSells++
			}
		}
	}
	if m.SellTrades > 0 {
		m.WinRate = decimal.NewFromInt(winningSells).
			Div(decimal.NewFromInt(m.SellTrades)).
			Mul(decimal.NewFromInt(100)).Round(4)
	}
	return m, nil
}

// buildSnapshot computes the valuation snapshot from a portfolio and its
// (already marked) positions.
func buildSnapshot(portfolio *model.Portfolio, positions []model.Position) *model.PortfolioValue {
	positionValue := decimal.Zero
	unrealized := decimal.Zero
	for i := range positions {
		positionValue = positionValue.Add(positions[i].MarketValue())
		unrealized = unrealized.Add(positions[i].UnrealizedPL)
	}

	totalPL := portfolio.RealizedPL.Add(unrealized)
	return &model.PortfolioValue{
		TraderID:      portfolio.TraderID,
		CashBalance:   portfolio.CashBalance,
		PositionValue: positionValue,
		TotalValue:    portfolio.CashBalance.Add(positionValue),
		RealizedPL:    portfolio.RealizedPL,
		UnrealizedPL:  unrealized,
		TotalPL:       totalPL,
		TotalPLPct:    plPercent(totalPL, portfolio.StartingBalance),
		PositionCount: len(positions),
	}
}
