package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update snapshots the whole state before running the callback and
// restores it on error, which gives the same all-or-nothing semantics as
// a database transaction at test scale.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	profiles  map[string]*model.Profile
	positions map[posKey]*model.Position
	trades    map[string]*model.Trade
	tradeSeq  []string // insertion order of trade IDs
	history   []model.ProbabilityPoint
}

type posKey struct {
	userID   string
	marketID string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		profiles:  make(map[string]*model.Profile),
		positions: make(map[posKey]*model.Position),
		trades:    make(map[string]*model.Trade),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrExists
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; ok {
		return ErrExists
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positionLocked(userID, marketID), nil
}

// positionLocked returns a copy of the stored position, or an empty one.
// Caller must hold at least a read lock.
func (s *MemoryStore) positionLocked(userID, marketID string) *model.Position {
	if p, ok := s.positions[posKey{userID, marketID}]; ok {
		cp := *p
		return &cp
	}
	return &model.Position{
		UserID:        userID,
		MarketID:      marketID,
		YesShares:     decimal.Zero,
		NoShares:      decimal.Zero,
		TotalInvested: decimal.Zero,
	}
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MarketID < result[j].MarketID
	})
	return result, nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.tradeSeq) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.trades[s.tradeSeq[i]]
		if t.MarketID == marketID {
			result = append(result, *t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ProbabilityHistory(_ context.Context, marketID string, limit int) ([]model.ProbabilityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProbabilityPoint
	for _, pt := range s.history {
		if pt.MarketID == marketID {
			result = append(result, pt)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	markets   map[string]*model.Market
	profiles  map[string]*model.Profile
	positions map[posKey]*model.Position
	trades    map[string]*model.Trade
	tradeSeq  []string
	history   []model.ProbabilityPoint
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		markets:   make(map[string]*model.Market, len(s.markets)),
		profiles:  make(map[string]*model.Profile, len(s.profiles)),
		positions: make(map[posKey]*model.Position, len(s.positions)),
		trades:    make(map[string]*model.Trade, len(s.trades)),
		tradeSeq:  append([]string(nil), s.tradeSeq...),
		history:   append([]model.ProbabilityPoint(nil), s.history...),
	}
	for k, v := range s.markets {
		cp := *v
		snap.markets[k] = &cp
	}
	for k, v := range s.profiles {
		cp := *v
		snap.profiles[k] = &cp
	}
	for k, v := range s.positions {
		cp := *v
		snap.positions[k] = &cp
	}
	for k, v := range s.trades {
		cp := *v
		snap.trades[k] = &cp
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.markets = snap.markets
	s.profiles = snap.profiles
	s.positions = snap.positions
	s.trades = snap.trades
	s.tradeSeq = snap.tradeSeq
	s.history = snap.history
}

// memTx mutates the store maps directly; the store's write lock is held
// for the whole Update call, so no additional locking is needed here.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) MarketForUpdate(_ context.Context, id string) (*model.Market, error) {
	m, ok := t.s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) PositionForUpdate(_ context.Context, userID, marketID string) (*model.Position, error) {
	return t.s.positionLocked(userID, marketID), nil
}

func (t *memTx) PositionsForUpdate(_ context.Context, marketID string) ([]model.Position, error) {
	var result []model.Position
	for k, p := range t.s.positions {
		if k.marketID == marketID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func (t *memTx) BalanceForUpdate(_ context.Context, userID string) (decimal.Decimal, error) {
	p, ok := t.s.profiles[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return p.Balance, nil
}

func (t *memTx) TradeForUpdate(_ context.Context, id string) (*model.Trade, error) {
	tr, ok := t.s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (t *memTx) SetMarketState(_ context.Context, id string, poolYes, poolNo, probability, volume decimal.Decimal) error {
	m, ok := t.s.markets[id]
	if !ok {
		return ErrNotFound
	}
	m.PoolYes = poolYes
	m.PoolNo = poolNo
	m.Probability = probability
	m.Volume = volume
	return nil
}

func (t *memTx) SetMarketResolved(_ context.Context, id, resolution string, probability decimal.Decimal, resolvedAt time.Time) error {
	m, ok := t.s.markets[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = model.StatusResolved
	m.Resolution = resolution
	m.Probability = probability
	at := resolvedAt
	m.ResolvedAt = &at
	return nil
}

func (t *memTx) SetPosition(_ context.Context, p *model.Position) error {
	cp := *p
	t.s.positions[posKey{p.UserID, p.MarketID}] = &cp
	return nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	p, ok := t.s.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.Balance = balance
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	if _, ok := t.s.trades[tr.ID]; ok {
		return ErrExists
	}
	cp := *tr
	t.s.trades[tr.ID] = &cp
	t.s.tradeSeq = append(t.s.tradeSeq, tr.ID)
	return nil
}

func (t *memTx) MarkTradeRolledBack(_ context.Context, id string) error {
	tr, ok := t.s.trades[id]
	if !ok {
		return ErrNotFound
	}
	tr.IsRolledBack = true
	return nil
}

func (t *memTx) InsertProbabilityPoint(_ context.Context, pt *model.ProbabilityPoint) error {
	t.s.history = append(t.s.history, *pt)
	return nil
}
