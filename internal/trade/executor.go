package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/amm"
	"github.com/playmoney/market-engine/internal/metrics"
	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/store"
)

// TradeCommand is a validated request to execute one trade.
// Amount is the coin spend for BUY; Shares is the share count for SELL
// and the pair count for REDEEM.
type TradeCommand struct {
	UserID   string
	MarketID string
	Type     string
	Outcome  string
	Amount   decimal.Decimal
	Shares   decimal.Decimal
}

// TradeResult is the committed outcome of one trade.
type TradeResult struct {
	Trade       *model.Trade
	Position    *model.Position
	Balance     decimal.Decimal
	Probability decimal.Decimal
}

func (c *TradeCommand) validate() error {
	switch c.Type {
	case model.TradeBuy:
		if !c.Amount.IsPositive() {
			return ErrInvalidAmount
		}
	case model.TradeSell, model.TradeRedeem:
		if !c.Shares.IsPositive() {
			return ErrInvalidShares
		}
	default:
		return ErrInvalidType
	}
	if c.Outcome != model.OutcomeYes && c.Outcome != model.OutcomeNo {
		return ErrInvalidOutcome
	}
	return nil
}

// Execute runs one trade through the full lifecycle: quote against the
// current pools, validate funds/holdings, then commit atomically. The
// market's keyed lock serializes trades on the same market; a storage
// serialization conflict is retried with a fresh quote up to the
// configured attempt count.
func (s *Service) Execute(ctx context.Context, cmd TradeCommand) (*TradeResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	s.locks.Lock(cmd.MarketID)
	defer s.locks.Unlock(cmd.MarketID)

	var (
		res *TradeResult
		err error
	)
	for attempt := 0; attempt < s.retries; attempt++ {
		res, err = s.executeOnce(ctx, cmd)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		slog.Warn("trade conflict, retrying",
			"market", cmd.MarketID,
			"user", cmd.UserID,
			"attempt", attempt+1,
		)
	}
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(cmd.Type, cmd.Outcome).Inc()
	metrics.TradeLatency.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())
	if cmd.Type != model.TradeRedeem {
		amt, _ := res.Trade.Amount.Float64()
		metrics.MarketVolume.WithLabelValues(cmd.MarketID, cmd.Type).Add(amt)
	}

	slog.Info("trade executed",
		"trade_id", res.Trade.ID,
		"market", cmd.MarketID,
		"user", cmd.UserID,
		"type", cmd.Type,
		"outcome", cmd.Outcome,
		"amount", res.Trade.Amount.String(),
		"shares", res.Trade.Shares.String(),
		"redeemed", res.Trade.Redeemed.String(),
		"probability", res.Probability.String(),
	)

	if s.hub != nil && cmd.Type != model.TradeRedeem {
		s.hub.Broadcast(WSMessage{
			Type:        "trade_executed",
			MarketID:    cmd.MarketID,
			TradeType:   cmd.Type,
			Outcome:     cmd.Outcome,
			Amount:      res.Trade.Amount.String(),
			Shares:      res.Trade.Shares.String(),
			Probability: res.Probability.String(),
		})
	}
	return res, nil
}

func (s *Service) executeOnce(ctx context.Context, cmd TradeCommand) (*TradeResult, error) {
	var res *TradeResult

	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := tx.MarketForUpdate(ctx, cmd.MarketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}
		if m.Status != model.StatusActive {
			return ErrMarketClosed
		}

		bal, err := tx.BalanceForUpdate(ctx, cmd.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}
		pos, err := tx.PositionForUpdate(ctx, cmd.UserID, cmd.MarketID)
		if err != nil {
			return err
		}

		maker, err := amm.NewMaker(m.P)
		if err != nil {
			return err
		}

		var (
			tr        *model.Trade
			newYes    = m.PoolYes
			newNo     = m.PoolNo
			newProb   = m.Probability
			newVolume = m.Volume
		)

		switch cmd.Type {
		case model.TradeBuy:
			if bal.LessThan(cmd.Amount) {
				return ErrInsufficientBalance
			}
			var q amm.BuyQuote
			if cmd.Outcome == model.OutcomeYes {
				q, err = maker.QuoteBuyYes(m.PoolYes, m.PoolNo, cmd.Amount)
			} else {
				q, err = maker.QuoteBuyNo(m.PoolYes, m.PoolNo, cmd.Amount)
			}
			if err != nil {
				return err
			}

			// Auto-redeem against opposite-side holdings: each YES/NO
			// pair collapses into one coin, so the user never holds
			// both sides at once.
			opposite := pos.NoShares
			if cmd.Outcome == model.OutcomeNo {
				opposite = pos.YesShares
			}
			redeemed := decimal.Min(q.Shares, opposite)

			if cmd.Outcome == model.OutcomeYes {
				pos.YesShares = pos.YesShares.Add(q.Shares).Sub(redeemed)
				pos.NoShares = pos.NoShares.Sub(redeemed)
			} else {
				pos.NoShares = pos.NoShares.Add(q.Shares).Sub(redeemed)
				pos.YesShares = pos.YesShares.Sub(redeemed)
			}
			pos.TotalInvested = pos.TotalInvested.Add(cmd.Amount).Sub(redeemed)
			bal = bal.Sub(cmd.Amount).Add(redeemed)

			newYes, newNo, newProb = q.PoolYes, q.PoolNo, q.Probability
			newVolume = m.Volume.Add(cmd.Amount)

			tr = &model.Trade{
				Type:     model.TradeBuy,
				Amount:   cmd.Amount,
				Shares:   q.Shares,
				Redeemed: redeemed,
			}

		case model.TradeSell:
			held := pos.YesShares
			if cmd.Outcome == model.OutcomeNo {
				held = pos.NoShares
			}
			if !held.IsPositive() {
				return ErrInsufficientShares
			}
			// Clamp to holdings so "sell everything" never fails on a
			// stale share count.
			shares := decimal.Min(cmd.Shares, held)

			var q amm.SellQuote
			if cmd.Outcome == model.OutcomeYes {
				q, err = maker.QuoteSellYes(m.PoolYes, m.PoolNo, shares)
			} else {
				q, err = maker.QuoteSellNo(m.PoolYes, m.PoolNo, shares)
			}
			if err != nil {
				return err
			}

			if cmd.Outcome == model.OutcomeYes {
				pos.YesShares = pos.YesShares.Sub(shares)
			} else {
				pos.NoShares = pos.NoShares.Sub(shares)
			}
			pos.TotalInvested = pos.TotalInvested.Sub(q.Payout)
			bal = bal.Add(q.Payout)

			newYes, newNo, newProb = q.PoolYes, q.PoolNo, q.Probability
			newVolume = m.Volume.Add(q.Payout)

			tr = &model.Trade{
				Type:   model.TradeSell,
				Amount: q.Payout,
				Shares: shares,
			}

		case model.TradeRedeem:
			pairs := decimal.Min(pos.YesShares, pos.NoShares)
			if !pairs.IsPositive() {
				return ErrInsufficientShares
			}
			redeemed := decimal.Min(cmd.Shares, pairs)

			pos.YesShares = pos.YesShares.Sub(redeemed)
			pos.NoShares = pos.NoShares.Sub(redeemed)
			pos.TotalInvested = pos.TotalInvested.Sub(redeemed)
			bal = bal.Add(redeemed)

			// Pools, probability, and volume are untouched: redemption
			// exchanges share pairs for coins outside the pricing curve.
			tr = &model.Trade{
				Type:     model.TradeRedeem,
				Amount:   redeemed,
				Shares:   redeemed,
				Redeemed: redeemed,
			}
		}

		tr.ID = uuid.New().String()
		tr.MarketID = cmd.MarketID
		tr.UserID = cmd.UserID
		tr.Outcome = cmd.Outcome
		tr.ProbBefore = m.Probability
		tr.ProbAfter = newProb
		tr.CreatedAt = time.Now().UTC()

		if cmd.Type != model.TradeRedeem {
			if err := tx.SetMarketState(ctx, m.ID, newYes, newNo, newProb, newVolume); err != nil {
				return err
			}
			pt := &model.ProbabilityPoint{
				MarketID:    m.ID,
				Probability: newProb,
				CreatedAt:   tr.CreatedAt,
			}
			if err := tx.InsertProbabilityPoint(ctx, pt); err != nil {
				return err
			}
		}
		if err := tx.SetPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, cmd.UserID, bal); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, tr); err != nil {
			return err
		}

		res = &TradeResult{
			Trade:       tr,
			Position:    pos,
			Balance:     bal,
			Probability: newProb,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
