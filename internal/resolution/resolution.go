// Package resolution handles parsing and payout semantics of market
// resolution values: a binary outcome (YES/NO), a no-contest token (N/A),
// or a fractional settlement in [0,1].
package resolution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind discriminates the resolution variants.
type Kind int

const (
	// Binary resolves to exactly one of the two outcomes.
	Binary Kind = iota
	// NoContest resolves with no winner; all shares expire worthless.
	NoContest
	// Fractional resolves to a percentage: each YES share pays the
	// fraction, each NO share pays its complement.
	Fractional
)

var (
	// ErrInvalidResolution is returned when the value is neither an
	// outcome token, "N/A", nor a number in [0,1].
	ErrInvalidResolution = errors.New("resolution: invalid resolution value")
)

// Resolution is a parsed, validated resolution value.
type Resolution struct {
	Kind     Kind
	Yes      bool            // meaningful only for Binary
	Fraction decimal.Decimal // meaningful only for Fractional
}

// Parse parses a resolution value: "YES", "NO", "N/A", or a decimal
// number in [0,1] ("0.42"). The token forms are case-sensitive, matching
// the values the admin surface submits.
func Parse(value string) (Resolution, error) {
	switch value {
	case "YES":
		return Resolution{Kind: Binary, Yes: true}, nil
	case "NO":
		return Resolution{Kind: Binary, Yes: false}, nil
	case "N/A":
		return Resolution{Kind: NoContest}, nil
	}

	frac, err := decimal.NewFromString(value)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidResolution, value)
	}
	if frac.IsNegative() || frac.GreaterThan(decimal.NewFromInt(1)) {
		return Resolution{}, fmt.Errorf("%w: fraction %s outside [0,1]", ErrInvalidResolution, value)
	}
	return Resolution{Kind: Fractional, Fraction: frac}, nil
}

// Payout computes the coins owed for a position holding the given share
// counts: 1 coin per winning share on Binary, fraction per YES share plus
// complement per NO share on Fractional, nothing on NoContest.
func (r Resolution) Payout(yesShares, noShares decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case Binary:
		if r.Yes {
			return yesShares
		}
		return noShares
	case Fractional:
		complement := decimal.NewFromInt(1).Sub(r.Fraction)
		return r.Fraction.Mul(yesShares).Add(complement.Mul(noShares))
	default: // NoContest
		return decimal.Zero
	}
}

// SettledProbability is the final probability sample a resolution writes:
// 1 or 0 for Binary, the fraction for Fractional. NoContest fixes no
// outcome, so the market's last traded probability is carried through.
func (r Resolution) SettledProbability(current decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case Binary:
		if r.Yes {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	case Fractional:
		return r.Fraction
	default:
		return current
	}
}

// String returns the stored representation: the token for Binary and
// NoContest, the decimal text for Fractional.
func (r Resolution) String() string {
	switch r.Kind {
	case Binary:
		if r.Yes {
			return "YES"
		}
		return "NO"
	case Fractional:
		return r.Fraction.String()
	default:
		return "N/A"
	}
}
