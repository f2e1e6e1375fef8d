// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// All engine mutations go through Update, which runs its callback inside
// one atomic transaction: every write made through the Tx commits together
// or not at all, and the ForUpdate reads hold row-level locks until the
// transaction ends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when a create collides with an existing row.
	ErrExists = errors.New("store: already exists")

	// ErrConflict is returned when a concurrent writer won the race on the
	// same rows. Safe to retry with a fresh quote.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Creation ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// CreateProfile persists a new profile with its starting balance.
	CreateProfile(ctx context.Context, p *model.Profile) error

	// --- Point/range reads (presentation-layer consumers) ---

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetProfile retrieves a profile by user ID.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// GetPosition returns the user's position on a market, or an empty
	// position if none has been recorded yet.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)

	// ListPositionsByUser returns all of a user's positions.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// RecentTrades returns up to limit most-recent trades for a market,
	// newest first.
	RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error)

	// ProbabilityHistory returns up to limit samples for a market in
	// chronological order.
	ProbabilityHistory(ctx context.Context, marketID string, limit int) ([]model.ProbabilityPoint, error)

	// --- Atomic mutation ---

	// Update runs fn inside one atomic transaction. If fn returns an
	// error, no mutation made through the Tx is visible afterwards.
	// A serialization race with a concurrent writer surfaces as
	// ErrConflict.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit-of-work handed to Update callbacks. ForUpdate reads lock
// the underlying rows for the duration of the transaction.
type Tx interface {
	MarketForUpdate(ctx context.Context, id string) (*model.Market, error)
	PositionForUpdate(ctx context.Context, userID, marketID string) (*model.Position, error)
	PositionsForUpdate(ctx context.Context, marketID string) ([]model.Position, error)
	BalanceForUpdate(ctx context.Context, userID string) (decimal.Decimal, error)
	TradeForUpdate(ctx context.Context, id string) (*model.Trade, error)

	SetMarketState(ctx context.Context, id string, poolYes, poolNo, probability, volume decimal.Decimal) error
	SetMarketResolved(ctx context.Context, id, resolution string, probability decimal.Decimal, resolvedAt time.Time) error
	SetPosition(ctx context.Context, p *model.Position) error
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	InsertTrade(ctx context.Context, t *model.Trade) error
	MarkTradeRolledBack(ctx context.Context, id string) error
	InsertProbabilityPoint(ctx context.Context, pt *model.ProbabilityPoint) error
}
