package market

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/model"
)

// StaticSource is an in-memory quote source for tests and development.
// Prices are set directly; market-open state is a switch.
type StaticSource struct {
	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	open       bool
	tradingDay bool
}

// NewStaticSource creates a static source with the market open.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		prices:     make(map[string]decimal.Decimal),
		open:       true,
		tradingDay: true,
	}
}

// SetPrice sets (or overwrites) the quoted price for a symbol.
func (s *StaticSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// RemovePrice makes a symbol unpriceable.
func (s *StaticSource) RemovePrice(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, symbol)
}

// SetOpen toggles market-open state (and trading-day state with it).
func (s *StaticSource) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
	s.tradingDay = open
}

func (s *StaticSource) FetchPrice(_ context.Context, symbol string) (*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok {
		return nil, ErrPriceUnavailable
	}
	return &model.Quote{
		Symbol:    symbol,
		Price:     price,
		High:      price,
		Low:       price,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *StaticSource) FetchPrices(_ context.Context, symbols []string) (map[string]*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make(map[string]*model.Quote, len(symbols))
	for _, sym := range symbols {
		price, ok := s.prices[sym]
		if !ok {
			continue
		}
		quotes[sym] = &model.Quote{
			Symbol:    sym,
			Price:     price,
			High:      price,
			Low:       price,
			Timestamp: time.Now().UTC(),
		}
	}
	return quotes, nil
}

func (s *StaticSource) IsMarketOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

func (s *StaticSource) IsTradingDay() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradingDay
}

func (s *StaticSource) ValidateSymbol(symbol string) bool { return ValidSymbol(symbol) }
