// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market statuses.
const (
	StatusActive    = "active"
	StatusResolved  = "resolved"
	StatusCancelled = "cancelled"
)

// Trade types.
const (
	TradeBuy    = "BUY"
	TradeSell   = "SELL"
	TradeRedeem = "REDEEM"
)

// Outcomes.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Market is the state of one binary prediction market. Probability is
// always the value the pricing curve derives from (PoolYes, PoolNo, P);
// it is stored alongside them only so readers never recompute it.
type Market struct {
	ID             string          `json:"id" db:"id"`
	Question       string          `json:"question" db:"question"`
	Description    string          `json:"description,omitempty" db:"description"`
	PoolYes        decimal.Decimal `json:"pool_yes" db:"pool_yes"`
	PoolNo         decimal.Decimal `json:"pool_no" db:"pool_no"`
	P              decimal.Decimal `json:"p" db:"p"` // fixed pricing-curve weight
	Probability    decimal.Decimal `json:"probability" db:"probability"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	Volume         decimal.Decimal `json:"volume" db:"volume"`
	Status         string          `json:"status" db:"status"` // "active", "resolved", "cancelled"
	Resolution     string          `json:"resolution,omitempty" db:"resolution"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Trade is an immutable record of one executed action. Once created,
// only IsRolledBack is ever modified; trades are never deleted.
// Redeemed records the share pairs auto-redeemed as part of a BUY (zero
// for SELL; equal to Shares for REDEEM) so that a rollback can reverse
// the redemption exactly.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Type         string          `json:"type" db:"type"`       // "BUY", "SELL", "REDEEM"
	Outcome      string          `json:"outcome" db:"outcome"` // "YES" or "NO"
	Amount       decimal.Decimal `json:"amount" db:"amount"`   // coins spent (BUY) or received (SELL, REDEEM)
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Redeemed     decimal.Decimal `json:"redeemed" db:"redeemed"`
	ProbBefore   decimal.Decimal `json:"prob_before" db:"prob_before"`
	ProbAfter    decimal.Decimal `json:"prob_after" db:"prob_after"`
	IsRolledBack bool            `json:"is_rolled_back" db:"is_rolled_back"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is one user's holdings in one market. Share counts never go
// negative; a position with both counts at zero is logically empty but
// kept as a row. TotalInvested is the running net of coins spent minus
// coins received and survives resolution as a historical record.
type Position struct {
	UserID        string          `json:"user_id" db:"user_id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	YesShares     decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares      decimal.Decimal `json:"no_shares" db:"no_shares"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
}

// Profile holds a user's spendable coin balance. Identity itself lives
// outside the engine; Balance is the only field the engine writes.
type Profile struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ProbabilityPoint is one append-only sample of a market's probability,
// written on every trade and on resolution. Read by charts.
type ProbabilityPoint struct {
	MarketID    string          `json:"market_id" db:"market_id"`
	Probability decimal.Decimal `json:"probability" db:"probability"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
