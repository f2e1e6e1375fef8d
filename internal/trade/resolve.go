package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/metrics"
	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/resolution"
	"github.com/playmoney/market-engine/internal/store"
)

// Resolve settles a market with the given resolution value ("YES",
// "NO", "N/A", or a fraction in [0,1]). Every open position is paid out
// at the settled rate per YES share and its opposite per NO share, all
// share counts drop to zero, and the market stops trading — atomically,
// in one transaction.
func (s *Service) Resolve(ctx context.Context, marketID, value string) (*model.Market, error) {
	res, err := resolution.Parse(value)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(marketID)
	defer s.locks.Unlock(marketID)

	var resolved *model.Market
	err = s.store.Update(ctx, func(tx store.Tx) error {
		m, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}
		if m.Status != model.StatusActive {
			return ErrMarketClosed
		}

		positions, err := tx.PositionsForUpdate(ctx, marketID)
		if err != nil {
			return err
		}

		for i := range positions {
			pos := &positions[i]
			payout := res.Payout(pos.YesShares, pos.NoShares)
			if payout.IsPositive() {
				bal, err := tx.BalanceForUpdate(ctx, pos.UserID)
				if err != nil {
					return err
				}
				if err := tx.SetBalance(ctx, pos.UserID, bal.Add(payout)); err != nil {
					return err
				}
			}
			if pos.YesShares.IsZero() && pos.NoShares.IsZero() {
				continue
			}
			// TotalInvested survives as the historical record.
			pos.YesShares = decimal.Zero
			pos.NoShares = decimal.Zero
			if err := tx.SetPosition(ctx, pos); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		settled := res.SettledProbability(m.Probability)
		if err := tx.SetMarketResolved(ctx, marketID, res.String(), settled, now); err != nil {
			return err
		}
		pt := &model.ProbabilityPoint{
			MarketID:    marketID,
			Probability: settled,
			CreatedAt:   now,
		}
		if err := tx.InsertProbabilityPoint(ctx, pt); err != nil {
			return err
		}

		m.Status = model.StatusResolved
		m.Resolution = res.String()
		m.Probability = settled
		m.ResolvedAt = &now
		resolved = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.Inc()
	metrics.ActiveMarkets.Dec()

	slog.Info("market resolved",
		"market", marketID,
		"resolution", resolved.Resolution,
		"probability", resolved.Probability.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:        "market_resolved",
			MarketID:    marketID,
			Resolution:  resolved.Resolution,
			Probability: resolved.Probability.String(),
		})
	}
	return resolved, nil
}
