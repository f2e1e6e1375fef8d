package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot point reads: markets, profiles, positions. Writes go
// through the primary; Update records which rows the transaction touched
// and invalidates their keys after commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Creation (write to primary, prime cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheSet(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	if err := s.primary.CreateProfile(ctx, p); err != nil {
		return err
	}
	s.cacheSet(ctx, profileKey(p.ID), p)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.cacheGet(ctx, marketKey(id), &m) {
		return &m, nil
	}

	fresh, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, marketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if s.cacheGet(ctx, profileKey(userID), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, profileKey(userID), fresh)
	return fresh, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	var p model.Position
	if s.cacheGet(ctx, positionKey(userID, marketID), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, positionKey(userID, marketID), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	return s.primary.ListPositionsByUser(ctx, userID)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	return s.primary.RecentTrades(ctx, marketID, limit)
}

func (s *CachedStore) ProbabilityHistory(ctx context.Context, marketID string, limit int) ([]model.ProbabilityPoint, error) {
	return s.primary.ProbabilityHistory(ctx, marketID, limit)
}

// --- Atomic mutation with post-commit invalidation ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	inv := &invalidatingTx{keys: make(map[string]struct{})}

	err := s.primary.Update(ctx, func(tx Tx) error {
		inv.Tx = tx
		return fn(inv)
	})
	if err != nil {
		return err
	}

	if len(inv.keys) > 0 {
		keys := make([]string, 0, len(inv.keys))
		for k := range inv.keys {
			keys = append(keys, k)
		}
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// invalidatingTx forwards to the primary Tx and records the cache keys of
// every row the transaction writes.
type invalidatingTx struct {
	Tx
	keys map[string]struct{}
}

func (t *invalidatingTx) SetMarketState(ctx context.Context, id string, poolYes, poolNo, probability, volume decimal.Decimal) error {
	t.keys[marketKey(id)] = struct{}{}
	return t.Tx.SetMarketState(ctx, id, poolYes, poolNo, probability, volume)
}

func (t *invalidatingTx) SetMarketResolved(ctx context.Context, id, resolution string, probability decimal.Decimal, resolvedAt time.Time) error {
	t.keys[marketKey(id)] = struct{}{}
	return t.Tx.SetMarketResolved(ctx, id, resolution, probability, resolvedAt)
}

func (t *invalidatingTx) SetPosition(ctx context.Context, p *model.Position) error {
	t.keys[positionKey(p.UserID, p.MarketID)] = struct{}{}
	return t.Tx.SetPosition(ctx, p)
}

func (t *invalidatingTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	t.keys[profileKey(userID)] = struct{}{}
	return t.Tx.SetBalance(ctx, userID, balance)
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func profileKey(id string) string { return fmt.Sprintf("profile:%s", id) }

func positionKey(userID, marketID string) string {
	return fmt.Sprintf("position:%s:%s", userID, marketID)
}
