// Package market supplies quotes and the market-hours gate consumed by the
// ledger core. The engine treats the quote provider as a pluggable service:
// implementations here are an HTTP client (production) and a static
// in-memory source (tests, development).
package market

import (
	"context"
	"errors"

	"github.com/tradearena/ledger-engine/internal/model"
)

// ErrPriceUnavailable is returned when no quote can be obtained for a
// symbol — provider miss, timeout, or open circuit breaker. Callers map
// it to the price_unavailable rejection.
var ErrPriceUnavailable = errors.New("market: price unavailable")

// QuoteSource is the consumed market-data interface. It is read-only from
// the ledger's perspective; the engine never writes market state.
type QuoteSource interface {
	// FetchPrice returns the current quote for one symbol, or
	// ErrPriceUnavailable when the provider has no price.
	FetchPrice(ctx context.Context, symbol string) (*model.Quote, error)

	// FetchPrices batch-fetches quotes. Symbols without a price are
	// simply absent from the result map.
	FetchPrices(ctx context.Context, symbols []string) (map[string]*model.Quote, error)

	// IsMarketOpen reports whether orders may execute right now
	// (trading day and within trading hours).
	IsMarketOpen() bool

	// IsTradingDay reports whether today is a trading day.
	IsTradingDay() bool

	// ValidateSymbol reports whether the symbol passes the market's
	// format check. Purely syntactic; no provider round-trip.
	ValidateSymbol(symbol string) bool
}
