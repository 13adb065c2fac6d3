package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradearena/ledger-engine/internal/model"
)

// cache is the minimal key-value surface CachedStore needs. Implemented
// by Redis in production and by a map fake in tests.
type cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration)
	Del(ctx context.Context, keys ...string)
}

type redisCache struct {
	rdb *redis.Client
}

func (c redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	return data, err == nil
}

func (c redisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	c.rdb.Set(ctx, key, data, ttl)
}

func (c redisCache) Del(ctx context.Context, keys ...string) {
	c.rdb.Del(ctx, keys...)
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache for
// portfolio and position reads — the hot path for valuation and reporting.
//
// The cache is write-through only. Readers never fill it: a read-side fill
// can race ApplyTrade's invalidation and re-pin a pre-trade snapshot after
// the commit, which the executor would then trust inside its critical
// section. Every writer below holds the trader lock, so fills are
// serialized with commits and the cache always reflects committed state.
type CachedStore struct {
	primary Store
	cache   cache
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		cache:   redisCache{rdb: rdb},
		ttl:     ttl,
	}
}

// --- Writes (primary first, then refresh the cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.cachePortfolio(ctx, p)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, mut *TradeMutation) error {
	if err := s.primary.ApplyTrade(ctx, mut); err != nil {
		return err
	}
	s.cachePortfolio(ctx, mut.Portfolio)
	s.cache.Del(ctx, positionsKey(mut.Portfolio.TraderID))
	return nil
}

func (s *CachedStore) UpdateValuation(ctx context.Context, p *model.Portfolio, positions []model.Position) error {
	if err := s.primary.UpdateValuation(ctx, p, positions); err != nil {
		return err
	}
	// p's cash balance is not authoritative here (valuation never writes
	// cash), so drop the portfolio entry instead of caching it.
	s.cache.Del(ctx, portfolioKey(p.TraderID))
	if data, err := json.Marshal(positions); err == nil {
		s.cache.Set(ctx, positionsKey(p.TraderID), data, s.ttl)
	}
	return nil
}

// --- Reads (cache hit or primary; misses are not refilled) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, traderID string) (*model.Portfolio, error) {
	if data, ok := s.cache.Get(ctx, portfolioKey(traderID)); ok {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	return s.primary.GetPortfolio(ctx, traderID)
}

func (s *CachedStore) ListPositions(ctx context.Context, traderID string) ([]model.Position, error) {
	if data, ok := s.cache.Get(ctx, positionsKey(traderID)); ok {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}
	return s.primary.ListPositions(ctx, traderID)
}

// --- Passthrough (not cached) ---

// GetPosition bypasses the cache: the executor reads it inside the
// critical section and must see committed state.
func (s *CachedStore) GetPosition(ctx context.Context, traderID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, traderID, symbol)
}

func (s *CachedStore) ListTrades(ctx context.Context, traderID string, limit, offset int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, traderID, limit, offset)
}

func (s *CachedStore) TradeHistory(ctx context.Context, traderID string) ([]model.Trade, error) {
	return s.primary.TradeHistory(ctx, traderID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePortfolio(ctx context.Context, p *model.Portfolio) {
	if data, err := json.Marshal(p); err == nil {
		s.cache.Set(ctx, portfolioKey(p.TraderID), data, s.ttl)
	}
}

func portfolioKey(traderID string) string { return fmt.Sprintf("portfolio:%s", traderID) }
func positionsKey(traderID string) string { return fmt.Sprintf("positions:%s", traderID) }
