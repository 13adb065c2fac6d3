package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tradearena/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio          // traderID → portfolio
	positions  map[string]map[string]*model.Position // traderID → symbol → position
	trades     map[string][]model.Trade              // traderID → append-only history
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*model.Portfolio),
		positions:  make(map[string]map[string]*model.Position),
		trades:     make(map[string][]model.Trade),
	}
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.TraderID]; ok {
		return ErrAlreadyExists
	}

	// Store a copy to avoid external mutation.
	cp := *p
	s.portfolios[p.TraderID] = &cp
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, traderID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[traderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, traderID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[traderID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, traderID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySymbol := s.positions[traderID]
	positions := make([]model.Position, 0, len(bySymbol))
	for _, pos := range bySymbol {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// ApplyTrade applies the whole mutation under one lock, after verifying
// the portfolio exists. Nothing is written on a failed check, so the
// all-or-nothing contract holds.
func (s *MemoryStore) ApplyTrade(_ context.Context, mut *TradeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[mut.Portfolio.TraderID]; !ok {
		return ErrNotFound
	}

	traderID := mut.Portfolio.TraderID

	pf := *mut.Portfolio
	s.portfolios[traderID] = &pf

	if mut.ClosePosition {
		delete(s.positions[traderID], mut.Trade.Symbol)
	} else if mut.Position != nil {
		if s.positions[traderID] == nil {
			s.positions[traderID] = make(map[string]*model.Position)
		}
		pos := *mut.Position
		s.positions[traderID][pos.Symbol] = &pos
	}

	s.trades[traderID] = append(s.trades[traderID], *mut.Trade)
	return nil
}

func (s *MemoryStore) UpdateValuation(_ context.Context, p *model.Portfolio, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.portfolios[p.TraderID]
	if !ok {
		return ErrNotFound
	}

	// Valuation never touches cash: keep the stored balance.
	pf := *p
	pf.CashBalance = existing.CashBalance
	s.portfolios[p.TraderID] = &pf

	for i := range positions {
		if stored, ok := s.positions[p.TraderID][positions[i].Symbol]; ok {
			stored.CurrentPrice = positions[i].CurrentPrice
			stored.UnrealizedPL = positions[i].UnrealizedPL
			stored.UnrealizedPLPct = positions[i].UnrealizedPLPct
			stored.UpdatedAt = positions[i].UpdatedAt
		}
	}
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, traderID string, limit, offset int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultTradeLimit
	}

	history := s.trades[traderID]

	// Newest first.
	reversed := make([]model.Trade, len(history))
	for i, t := range history {
		reversed[len(history)-1-i] = t
	}

	if offset >= len(reversed) {
		return []model.Trade{}, nil
	}
	reversed = reversed[offset:]
	if limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

func (s *MemoryStore) TradeHistory(_ context.Context, traderID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.trades[traderID]
	out := make([]model.Trade, len(history))
	copy(out, history)
	return out, nil
}
