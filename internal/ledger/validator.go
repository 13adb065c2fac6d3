package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/market"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

// Validation is the outcome of an order preflight check: either accepted
// with the price quoted at validation time, or rejected with a reason.
type Validation struct {
	Accepted    bool            `json:"accepted"`
	QuotedPrice decimal.Decimal `json:"quoted_price"`
	Rejection   *Rejection      `json:"rejection,omitempty"`
}

func rejected(r *Rejection) *Validation { return &Validation{Rejection: r} }

// Validator runs the side-effect-free order preflight. It reads ledger,
// position book, and quote source state but never mutates anything, so it
// is safe to call repeatedly.
type Validator struct {
	store  store.Store
	quotes market.QuoteSource
	fee    decimal.Decimal
}

// NewValidator creates a validator with the flat per-trade fee.
func NewValidator(st store.Store, quotes market.QuoteSource, fee decimal.Decimal) *Validator {
	return &Validator{store: st, quotes: quotes, fee: fee}
}

// Validate preflights an order. Checks run in a fixed order: side,
// quantity, symbol format, market-hours gate, then funds (BUY, against a
// fresh quote) or position/shares (SELL). The market-closed rejection
// fires regardless of funds or position.
func (v *Validator) Validate(ctx context.Context, traderID, symbol string, side model.Side, quantity int64) (*Validation, error) {
	if !side.Valid() {
		return rejected(reject(ReasonInvalidSide, "side must be BUY or SELL, got %q", side)), nil
	}
	if quantity <= 0 {
		return rejected(reject(ReasonInvalidQuantity, "quantity must be a positive integer, got %d", quantity)), nil
	}
	if !v.quotes.ValidateSymbol(symbol) {
		return rejected(reject(ReasonInvalidSymbol, "symbol %q has invalid format", symbol)), nil
	}
	if !v.quotes.IsTradingDay() || !v.quotes.IsMarketOpen() {
		return rejected(reject(ReasonMarketClosed, "market is closed for trading")), nil
	}

	switch side {
	case model.SideBuy:
		return v.validateBuy(ctx, traderID, symbol, quantity)
	default:
		return v.validateSell(ctx, traderID, symbol, quantity)
	}
}

func (v *Validator) validateBuy(ctx context.Context, traderID, symbol string, quantity int64) (*Validation, error) {
	quote, err := v.quotes.FetchPrice(ctx, symbol)
	if err != nil {
		return rejected(reject(ReasonPriceUnavailable, "no quote for %s", symbol)), nil
	}

	portfolio, err := v.store.GetPortfolio(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", traderID, err)
	}

	totalCost := quote.Price.Mul(decimal.NewFromInt(quantity)).Add(v.fee)
	if portfolio.CashBalance.LessThan(totalCost) {
		return rejected(reject(ReasonInsufficientFunds,
			"need %s, have %s", totalCost.StringFixed(2), portfolio.CashBalance.StringFixed(2))), nil
	}

	return &Validation{Accepted: true, QuotedPrice: quote.Price}, nil
}

func (v *Validator) validateSell(ctx context.Context, traderID, symbol string, quantity int64) (*Validation, error) {
	position, err := v.store.GetPosition(ctx, traderID, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected(reject(ReasonNoPosition, "no open position in %s", symbol)), nil
		}
		return nil, fmt.Errorf("load position %s/%s: %w", traderID, symbol, err)
	}
	if position.Quantity < quantity {
		return rejected(reject(ReasonInsufficientShares,
			"hold %d shares of %s, tried to sell %d", position.Quantity, symbol, quantity)), nil
	}

	// Best-effort quote for the response; sell acceptance does not
	// depend on price availability at validation time.
	v2 := &Validation{Accepted: true}
	if quote, err := v.quotes.FetchPrice(ctx, symbol); err == nil {
		v2.QuotedPrice = quote.Price
	}
	return v2, nil
}
