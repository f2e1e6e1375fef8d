// Package amm implements the weighted constant-product automated market
// maker for binary play-money prediction markets.
//
// Each market holds two reserve pools (YES and NO) and a fixed weight
// parameter p in (0,1) chosen at creation. The implied probability of the
// YES outcome is
//
//	prob = p·poolNo / (p·poolNo + (1−p)·poolYes)
//
// and every trade preserves the weighted product invariant
//
//	poolYes^p · poolNo^(1−p) = k
//
// Buying adds the spent coins to both pools and solves the bought side's
// pool back onto the invariant; the difference is the shares received.
// Selling is the exact inverse, solved numerically (there is no closed
// form for general p).
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal root-finding uses float64, with results immediately converted
// to decimal. Shares and payouts are rounded first and the pools derived
// from them by exact decimal arithmetic, so a trade's pool deltas are
// always reconstructible from its recorded amount and shares.
package amm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidWeight is returned when p is outside (0,1).
	ErrInvalidWeight = errors.New("amm: weight p must be in (0,1)")

	// ErrInvalidPools is returned when either reserve pool is not positive.
	ErrInvalidPools = errors.New("amm: reserve pools must be positive")

	// ErrInvalidAmount is returned for a non-positive coin amount.
	ErrInvalidAmount = errors.New("amm: amount must be positive")

	// ErrInvalidShares is returned for a non-positive share count.
	ErrInvalidShares = errors.New("amm: shares must be positive")

	// ErrProbabilityBound is returned when a trade would push the implied
	// probability beyond the allowed bounds [MinProbability, MaxProbability].
	ErrProbabilityBound = errors.New("amm: trade would push probability beyond allowed bounds")

	// MinProbability is the probability floor. Prevents degenerate markets
	// where one pool is fully drained.
	MinProbability = decimal.NewFromFloat(0.001)

	// MaxProbability is the probability ceiling.
	MaxProbability = decimal.NewFromFloat(0.999)

	// Scale is the number of decimal places for shares/payout/probability
	// rounding.
	Scale int32 = 8

	one = decimal.NewFromInt(1)
)

// Maker prices trades against one market's reserve pools. It is
// stateless — pool quantities are passed as arguments, not stored.
type Maker struct {
	p decimal.Decimal
}

// NewMaker creates a market maker with the given weight parameter p.
// p is fixed per market; with equal seeded pools the implied probability
// equals p exactly.
func NewMaker(p decimal.Decimal) (*Maker, error) {
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(one) {
		return nil, ErrInvalidWeight
	}
	return &Maker{p: p}, nil
}

// P returns the weight parameter.
func (m *Maker) P() decimal.Decimal {
	return m.p
}

// SeedPools returns the initial pool state for a new market: both pools
// equal to liquidity and p equal to initialProbability, which makes
// Probability equal initialProbability at creation.
func SeedPools(initialProbability, liquidity decimal.Decimal) (poolYes, poolNo, p decimal.Decimal, err error) {
	if initialProbability.LessThan(MinProbability) || initialProbability.GreaterThan(MaxProbability) {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidWeight
	}
	if liquidity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidPools
	}
	return liquidity, liquidity, initialProbability, nil
}

// Probability computes the implied YES probability from the current pools:
//
//	prob = p·poolNo / (p·poolNo + (1−p)·poolYes)
//
// Strictly increasing in poolNo and strictly decreasing in poolYes.
// Computed entirely in decimal (no transcendental math), rounded to Scale,
// and clamped to [MinProbability, MaxProbability].
func (m *Maker) Probability(poolYes, poolNo decimal.Decimal) decimal.Decimal {
	// Degenerate pools are clamped rather than rejected; callers bound
	// trade sizing so these branches are never hit by committed state.
	if poolYes.LessThanOrEqual(decimal.Zero) {
		return MaxProbability
	}
	if poolNo.LessThanOrEqual(decimal.Zero) {
		return MinProbability
	}

	num := m.p.Mul(poolNo)
	den := num.Add(one.Sub(m.p).Mul(poolYes))
	prob := num.Div(den).Round(Scale)

	if prob.LessThan(MinProbability) {
		return MinProbability
	}
	if prob.GreaterThan(MaxProbability) {
		return MaxProbability
	}
	return prob
}

// BuyQuote is the result of pricing a buy: shares received and the pool
// state the commit must apply.
type BuyQuote struct {
	Shares      decimal.Decimal
	PoolYes     decimal.Decimal
	PoolNo      decimal.Decimal
	Probability decimal.Decimal
}

// SellQuote is the result of pricing a sell: coin payout and the pool
// state the commit must apply.
type SellQuote struct {
	Payout      decimal.Decimal
	PoolYes     decimal.Decimal
	PoolNo      decimal.Decimal
	Probability decimal.Decimal
}

// QuoteBuyYes prices spending amount coins on YES shares.
// The returned shares are always >= amount while probability < 1,
// approaching 1:1 with coins as probability approaches 1.
func (m *Maker) QuoteBuyYes(poolYes, poolNo, amount decimal.Decimal) (BuyQuote, error) {
	if err := validatePools(poolYes, poolNo); err != nil {
		return BuyQuote{}, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrInvalidAmount
	}

	w := m.p.InexactFloat64()
	sharesF := buyShares(poolYes.InexactFloat64(), poolNo.InexactFloat64(), amount.InexactFloat64(), w)
	shares := decimal.NewFromFloat(sharesF).Round(Scale)

	newYes := poolYes.Add(amount).Sub(shares)
	newNo := poolNo.Add(amount)
	if err := m.checkBounds(newYes, newNo); err != nil {
		return BuyQuote{}, err
	}

	return BuyQuote{
		Shares:      shares,
		PoolYes:     newYes,
		PoolNo:      newNo,
		Probability: m.Probability(newYes, newNo),
	}, nil
}

// QuoteBuyNo prices spending amount coins on NO shares.
func (m *Maker) QuoteBuyNo(poolYes, poolNo, amount decimal.Decimal) (BuyQuote, error) {
	if err := validatePools(poolYes, poolNo); err != nil {
		return BuyQuote{}, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrInvalidAmount
	}

	// Mirror of QuoteBuyYes: the NO pool carries exponent 1−p.
	w := one.Sub(m.p).InexactFloat64()
	sharesF := buyShares(poolNo.InexactFloat64(), poolYes.InexactFloat64(), amount.InexactFloat64(), w)
	shares := decimal.NewFromFloat(sharesF).Round(Scale)

	newYes := poolYes.Add(amount)
	newNo := poolNo.Add(amount).Sub(shares)
	if err := m.checkBounds(newYes, newNo); err != nil {
		return BuyQuote{}, err
	}

	return BuyQuote{
		Shares:      shares,
		PoolYes:     newYes,
		PoolNo:      newNo,
		Probability: m.Probability(newYes, newNo),
	}, nil
}

// QuoteSellYes prices returning shares YES shares to the pool for coins.
// Selling back the shares a buy just produced returns the coins spent,
// up to rounding at Scale.
func (m *Maker) QuoteSellYes(poolYes, poolNo, shares decimal.Decimal) (SellQuote, error) {
	if err := validatePools(poolYes, poolNo); err != nil {
		return SellQuote{}, err
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrInvalidShares
	}

	w := m.p.InexactFloat64()
	payoutF := sellPayout(poolYes.InexactFloat64(), poolNo.InexactFloat64(), shares.InexactFloat64(), w)
	payout := decimal.NewFromFloat(payoutF).Round(Scale)

	newYes := poolYes.Add(shares).Sub(payout)
	newNo := poolNo.Sub(payout)
	if err := m.checkBounds(newYes, newNo); err != nil {
		return SellQuote{}, err
	}

	return SellQuote{
		Payout:      payout,
		PoolYes:     newYes,
		PoolNo:      newNo,
		Probability: m.Probability(newYes, newNo),
	}, nil
}

// QuoteSellNo prices returning shares NO shares to the pool for coins.
func (m *Maker) QuoteSellNo(poolYes, poolNo, shares decimal.Decimal) (SellQuote, error) {
	if err := validatePools(poolYes, poolNo); err != nil {
		return SellQuote{}, err
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrInvalidShares
	}

	w := one.Sub(m.p).InexactFloat64()
	payoutF := sellPayout(poolNo.InexactFloat64(), poolYes.InexactFloat64(), shares.InexactFloat64(), w)
	payout := decimal.NewFromFloat(payoutF).Round(Scale)

	newYes := poolYes.Sub(payout)
	newNo := poolNo.Add(shares).Sub(payout)
	if err := m.checkBounds(newYes, newNo); err != nil {
		return SellQuote{}, err
	}

	return SellQuote{
		Payout:      payout,
		PoolYes:     newYes,
		PoolNo:      newNo,
		Probability: m.Probability(newYes, newNo),
	}, nil
}

// checkBounds rejects pool states whose implied probability exits the
// allowed band. Unlike Probability it does not clamp: a quote that lands
// outside the band fails instead of committing a distorted price.
func (m *Maker) checkBounds(poolYes, poolNo decimal.Decimal) error {
	if poolYes.LessThanOrEqual(decimal.Zero) || poolNo.LessThanOrEqual(decimal.Zero) {
		return ErrProbabilityBound
	}
	num := m.p.Mul(poolNo)
	den := num.Add(one.Sub(m.p).Mul(poolYes))
	prob := num.Div(den)
	if prob.LessThan(MinProbability) || prob.GreaterThan(MaxProbability) {
		return ErrProbabilityBound
	}
	return nil
}

func validatePools(poolYes, poolNo decimal.Decimal) error {
	if poolYes.LessThanOrEqual(decimal.Zero) || poolNo.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidPools
	}
	return nil
}

// buyShares computes the shares received for spending amount coins on the
// outcome whose pool is side (exponent w); other is the opposite pool
// (exponent 1−w). The amount enters both pools and the bought pool is
// solved back onto the invariant:
//
//	newSide = (k / (other+amount)^(1−w))^(1/w)
//	shares  = side + amount − newSide
func buyShares(side, other, amount, w float64) float64 {
	k := math.Pow(side, w) * math.Pow(other, 1-w)
	newSide := math.Pow(k/math.Pow(other+amount, 1-w), 1/w)
	return side + amount - newSide
}

// sellPayout solves for the coin payout v of returning s shares of the
// outcome whose pool is side (exponent w):
//
//	(side + s − v)^w · (other − v)^(1−w) = k
//
// The left side is strictly decreasing in v on [0, min(other, side+s)),
// positive at v=0 and below k as v approaches the upper limit, so
// bisection converges. 128 iterations reach float64 precision.
func sellPayout(side, other, s, w float64) float64 {
	k := math.Pow(side, w) * math.Pow(other, 1-w)

	lo := 0.0
	hi := math.Min(other, side+s)

	for i := 0; i < 128; i++ {
		mid := (lo + hi) / 2
		val := math.Pow(side+s-mid, w) * math.Pow(other-mid, 1-w)
		if val > k {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
