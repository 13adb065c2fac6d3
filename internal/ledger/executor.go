package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/market"
	"github.com/tradearena/ledger-engine/internal/metrics"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

// Executor is the only component that mutates the ledger. Every execution
// is one atomic unit — cash movement, position change, and trade append
// commit together or not at all.
//
// Per-trader serialization: the quote fetch (network I/O) happens before
// the trader's lock is taken; funds and shares are re-checked against the
// execution-time price after the lock is held and before commit.
type Executor struct {
	store        store.Store
	quotes       market.QuoteSource
	validator    *Validator
	locks        *traderLocks
	fee          decimal.Decimal
	quoteTimeout time.Duration
}

// NewExecutor creates a trade executor. fee is the flat per-trade fee;
// quoteTimeout bounds the execution-time quote fetch.
func NewExecutor(st store.Store, quotes market.QuoteSource, validator *Validator, locks *traderLocks, fee decimal.Decimal, quoteTimeout time.Duration) *Executor {
	return &Executor{
		store:        st,
		quotes:       quotes,
		validator:    validator,
		locks:        locks,
		fee:          fee,
		quoteTimeout: quoteTimeout,
	}
}

// ExecuteBuy buys quantity shares of symbol for the trader. Returns the
// completed trade, or a rejection, or an infrastructure error. A rejection
// or error leaves all state untouched.
func (e *Executor) ExecuteBuy(ctx context.Context, traderID, symbol string, quantity int64) (*model.Trade, *Rejection, error) {
	started := time.Now()

	// Defensive re-validation; the caller may have preflighted long ago.
	val, err := e.validator.Validate(ctx, traderID, symbol, model.SideBuy, quantity)
	if err != nil {
		return nil, nil, err
	}
	if !val.Accepted {
		metrics.TradeRejections.WithLabelValues(string(val.Rejection.Reason)).Inc()
		return nil, val.Rejection, nil
	}

	// Execution-time quote, fetched outside the trader lock. It may
	// differ from the validation-time quote (last look); sufficiency is
	// re-checked against it below, under the lock.
	quote, rej := e.executionQuote(ctx, symbol)
	if rej != nil {
		return nil, rej, nil
	}
	price := quote.Price
	qty := decimal.NewFromInt(quantity)

	lock := e.locks.get(traderID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := e.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}

	costBeforeFee := price.Mul(qty)
	totalCost := costBeforeFee.Add(e.fee)
	if portfolio.CashBalance.LessThan(totalCost) {
		rej := reject(ReasonInsufficientFunds,
			"need %s at execution price %s, have %s",
			totalCost.StringFixed(2), price.StringFixed(2), portfolio.CashBalance.StringFixed(2))
		metrics.TradeRejections.WithLabelValues(string(rej.Reason)).Inc()
		return nil, rej, nil
	}

	now := time.Now().UTC()

	// Re-average an existing position or open a fresh one.
	position, err := e.store.GetPosition(ctx, traderID, symbol)
	switch {
	case err == nil:
		oldQty := decimal.NewFromInt(position.Quantity)
		newQty := position.Quantity + quantity
		position.AvgPrice = position.AvgPrice.Mul(oldQty).Add(costBeforeFee).Div(decimal.NewFromInt(newQty))
		position.Quantity = newQty
	case errors.Is(err, store.ErrNotFound):
		position = &model.Position{
			TraderID: traderID,
			Symbol:   symbol,
			Quantity: quantity,
			AvgPrice: price,
			OpenedAt: now,
		}
	default:
		return nil, nil, fmt.Errorf("load position %s/%s: %w", traderID, symbol, err)
	}
	markPosition(position, price, now)

	portfolio.CashBalance = portfolio.CashBalance.Sub(totalCost)
	portfolio.TotalTrades++
	portfolio.UpdatedAt = now

	if err := e.refreshTotals(ctx, portfolio, symbol, position); err != nil {
		return nil, nil, err
	}

	trade := &model.Trade{
		ID:         uuid.New().String(),
		TraderID:   traderID,
		Symbol:     symbol,
		Side:       model.SideBuy,
		Quantity:   quantity,
		Price:      price,
		Fee:        e.fee,
		Total:      totalCost,
		RealizedPL: decimal.Zero,
		Status:     model.TradeCompleted,
		ExecutedAt: now,
	}

	mut := &store.TradeMutation{Portfolio: portfolio, Position: position, Trade: trade}
	if err := e.store.ApplyTrade(ctx, mut); err != nil {
		return nil, nil, fmt.Errorf("commit buy: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(string(model.SideBuy)).Inc()
	metrics.TradeLatency.WithLabelValues(string(model.SideBuy)).Observe(time.Since(started).Seconds())

	slog.Info("buy executed",
		"trade_id", trade.ID,
		"trader", traderID,
		"symbol", symbol,
		"qty", quantity,
		"price", price.String(),
		"total_cost", totalCost.String(),
		"cash_balance", portfolio.CashBalance.String(),
	)
	return trade, nil, nil
}

// ExecuteSell sells quantity shares of symbol for the trader. Selling the
// full position deletes it (terminal close); a partial sell reduces
// quantity and leaves the average price untouched.
func (e *Executor) ExecuteSell(ctx context.Context, traderID, symbol string, quantity int64) (*model.Trade, *Rejection, error) {
	started := time.Now()

	val, err := e.validator.Validate(ctx, traderID, symbol, model.SideSell, quantity)
	if err != nil {
		return nil, nil, err
	}
	if !val.Accepted {
		metrics.TradeRejections.WithLabelValues(string(val.Rejection.Reason)).Inc()
		return nil, val.Rejection, nil
	}

	quote, rej := e.executionQuote(ctx, symbol)
	if rej != nil {
		return nil, rej, nil
	}
	price := quote.Price
	qty := decimal.NewFromInt(quantity)

	lock := e.locks.get(traderID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := e.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}

	// Re-check shares under the lock: a concurrent sell may have
	// shrunk or closed the position since validation.
	position, err := e.store.GetPosition(ctx, traderID, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rej := reject(ReasonNoPosition, "no open position in %s", symbol)
			metrics.TradeRejections.WithLabelValues(string(rej.Reason)).Inc()
			return nil, rej, nil
		}
		return nil, nil, fmt.Errorf("load position %s/%s: %w", traderID, symbol, err)
	}
	if position.Quantity < quantity {
		rej := reject(ReasonInsufficientShares,
			"hold %d shares of %s, tried to sell %d", position.Quantity, symbol, quantity)
		metrics.TradeRejections.WithLabelValues(string(rej.Reason)).Inc()
		return nil, rej, nil
	}

	now := time.Now().UTC()

	proceedsBeforeFee := price.Mul(qty)
	totalProceeds := proceedsBeforeFee.Sub(e.fee)
	realizedPL := price.Sub(position.AvgPrice).Mul(qty).Sub(e.fee)

	portfolio.CashBalance = portfolio.CashBalance.Add(totalProceeds)
	portfolio.RealizedPL = portfolio.RealizedPL.Add(realizedPL)
	portfolio.TotalTrades++
	if realizedPL.IsPositive() {
		portfolio.WinningTrades++
	} else if realizedPL.IsNegative() {
		portfolio.LosingTrades++
	}
	portfolio.UpdatedAt = now

	closed := position.Quantity == quantity
	if closed {
		position = nil
	} else {
		position.Quantity -= quantity
		markPosition(position, price, now)
	}

	if err := e.refreshTotals(ctx, portfolio, symbol, position); err != nil {
		return nil, nil, err
	}

	trade := &model.Trade{
		ID:         uuid.New().String(),
		TraderID:   traderID,
		Symbol:     symbol,
		Side:       model.SideSell,
		Quantity:   quantity,
		Price:      price,
		Fee:        e.fee,
		Total:      totalProceeds,
		RealizedPL: realizedPL,
		Status:     model.TradeCompleted,
		ExecutedAt: now,
	}

	mut := &store.TradeMutation{
		Portfolio:     portfolio,
		Position:      position,
		ClosePosition: closed,
		Trade:         trade,
	}
	if err := e.store.ApplyTrade(ctx, mut); err != nil {
		return nil, nil, fmt.Errorf("commit sell: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(string(model.SideSell)).Inc()
	metrics.TradeLatency.WithLabelValues(string(model.SideSell)).Observe(time.Since(started).Seconds())

	slog.Info("sell executed",
		"trade_id", trade.ID,
		"trader", traderID,
		"symbol", symbol,
		"qty", quantity,
		"price", price.String(),
		"total_proceeds", totalProceeds.String(),
		"realized_pl", realizedPL.String(),
		"position_closed", closed,
	)
	return trade, nil, nil
}

// executionQuote fetches the fresh execution-time quote under a bounded
// timeout. Timeout or provider failure maps to price_unavailable with no
// retry; retry policy belongs to the caller.
func (e *Executor) executionQuote(ctx context.Context, symbol string) (*model.Quote, *Rejection) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()

	quote, err := e.quotes.FetchPrice(qctx, symbol)
	if err != nil {
		metrics.QuoteFetchErrors.Inc()
		rej := reject(ReasonPriceUnavailable, "no execution-time quote for %s", symbol)
		metrics.TradeRejections.WithLabelValues(string(rej.Reason)).Inc()
		return nil, rej
	}
	return quote, nil
}

// refreshTotals recomputes total_value and total_pl_pct from cash plus the
// mark-to-market value of all open positions, with the traded symbol's
// stored position replaced by its post-trade state (nil = closed).
func (e *Executor) refreshTotals(ctx context.Context, portfolio *model.Portfolio, symbol string, traded *model.Position) error {
	positions, err := e.store.ListPositions(ctx, portfolio.TraderID)
	if err != nil {
		return fmt.Errorf("list positions %s: %w", portfolio.TraderID, err)
	}

	positionValue := decimal.Zero
	unrealized := decimal.Zero
	seen := false
	for i := range positions {
		p := &positions[i]
		if p.Symbol == symbol {
			seen = true
			if traded == nil {
				continue
			}
			p = traded
		}
		positionValue = positionValue.Add(p.MarketValue())
		unrealized = unrealized.Add(p.UnrealizedPL)
	}
	if traded != nil && !seen {
		positionValue = positionValue.Add(traded.MarketValue())
		unrealized = unrealized.Add(traded.UnrealizedPL)
	}

	portfolio.TotalValue = portfolio.CashBalance.Add(positionValue)
	portfolio.TotalPLPct = plPercent(portfolio.RealizedPL.Add(unrealized), portfolio.StartingBalance)
	return nil
}

// markPosition updates a position's mark-to-market fields at the given price.
func markPosition(p *model.Position, price decimal.Decimal, now time.Time) {
	qty := decimal.NewFromInt(p.Quantity)
	p.CurrentPrice = price
	p.UnrealizedPL = price.Sub(p.AvgPrice).Mul(qty)
	if p.AvgPrice.IsPositive() {
		costBasis := p.AvgPrice.Mul(qty)
		p.UnrealizedPLPct = p.UnrealizedPL.Div(costBasis).Mul(decimal.NewFromInt(100)).Round(4)
	} else {
		p.UnrealizedPLPct = decimal.Zero
	}
	p.UpdatedAt = now
}

// plPercent returns pl / base × 100, or zero when base is not positive.
func plPercent(pl, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return pl.Div(base).Mul(decimal.NewFromInt(100)).Round(4)
}
