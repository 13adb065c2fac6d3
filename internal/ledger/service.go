package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/market"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

// TraderRegistry is the consumed trader-identity interface: it supplies
// the immutable starting balance at portfolio-initialization time only.
type TraderRegistry interface {
	StartingBalance(ctx context.Context, traderID string) (decimal.Decimal, error)
}

// StaticRegistry grants every trader the same configured starting balance.
type StaticRegistry struct {
	Balance decimal.Decimal
}

func (r StaticRegistry) StartingBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	return r.Balance, nil
}

// Service bundles the accounting core: validator, executor, and valuer
// share one store, one quote source, and one per-trader lock registry.
// All collaborators are passed in; there is no package-level state.
type Service struct {
	Validator *Validator
	Executor  *Executor
	Valuer    *Valuer

	store    store.Store
	registry TraderRegistry
}

// Params configures the accounting core.
type Params struct {
	Fee          decimal.Decimal // flat per-trade fee
	QuoteTimeout time.Duration   // bound on execution-time quote fetches
}

// New wires up the accounting core.
func New(st store.Store, quotes market.QuoteSource, registry TraderRegistry, p Params) *Service {
	if p.QuoteTimeout <= 0 {
		p.QuoteTimeout = 5 * time.Second
	}
	locks := newTraderLocks()
	validator := NewValidator(st, quotes, p.Fee)
	return &Service{
		Validator: validator,
		Executor:  NewExecutor(st, quotes, validator, locks, p.Fee, p.QuoteTimeout),
		Valuer:    NewValuer(st, quotes, locks),
		store:     st,
		registry:  registry,
	}
}

// InitializePortfolio creates a trader's portfolio with the registry's
// starting balance. Idempotence is the store's uniqueness constraint:
// a second call for the same trader returns store.ErrAlreadyExists.
func (s *Service) InitializePortfolio(ctx context.Context, traderID string) (*model.Portfolio, error) {
	balance, err := s.registry.StartingBalance(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("starting balance for %s: %w", traderID, err)
	}
	if !balance.IsPositive() {
		return nil, fmt.Errorf("starting balance for %s must be positive, got %s", traderID, balance)
	}

	now := time.Now().UTC()
	portfolio := &model.Portfolio{
		ID:              uuid.New().String(),
		TraderID:        traderID,
		StartingBalance: balance,
		CashBalance:     balance,
		TotalValue:      balance,
		RealizedPL:      decimal.Zero,
		TotalPLPct:      decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePortfolio(ctx, portfolio); err != nil {
		return nil, err
	}

	slog.Info("portfolio initialized", "trader", traderID, "starting_balance", balance.String())
	return portfolio, nil
}

// Portfolio returns a trader's portfolio record.
func (s *Service) Portfolio(ctx context.Context, traderID string) (*model.Portfolio, error) {
	return s.store.GetPortfolio(ctx, traderID)
}

// Positions returns a trader's open positions.
func (s *Service) Positions(ctx context.Context, traderID string) ([]model.Position, error) {
	return s.store.ListPositions(ctx, traderID)
}

// Trades returns a page of the trader's trade history, newest first.
func (s *Service) Trades(ctx context.Context, traderID string, limit, offset int) ([]model.Trade, error) {
	return s.store.ListTrades(ctx, traderID, limit, offset)
}
