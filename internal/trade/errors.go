package trade

import "errors"

// Validation errors: reported synchronously, nothing mutated, not retried.
var (
	ErrMarketNotFound  = errors.New("market not found")
	ErrTradeNotFound   = errors.New("trade not found")
	ErrProfileNotFound = errors.New("profile not found")

	ErrMarketClosed = errors.New("market is not active")

	ErrInvalidType    = errors.New("type must be BUY, SELL, or REDEEM")
	ErrInvalidOutcome = errors.New("outcome must be YES or NO")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidShares  = errors.New("shares must be positive")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")

	ErrRedeemNotReversible = errors.New("redeem trades cannot be rolled back")
	ErrAlreadyRolledBack   = errors.New("trade already rolled back")
)

// ErrIntegrity covers reversals whose computed delta would violate a
// ledger invariant (negative pool, share count, balance, or volume).
// Fatal for that operation; never silently clamped.
var ErrIntegrity = errors.New("operation would violate ledger invariants")
