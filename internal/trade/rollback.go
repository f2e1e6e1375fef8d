package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/amm"
	"github.com/playmoney/market-engine/internal/metrics"
	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/store"
)

// Batch statuses for rollback requests.
const (
	BatchOK      = "ok"      // every item rolled back
	BatchPartial = "partial" // some items rolled back
	BatchFailed  = "failed"  // no item rolled back
)

// RollbackResult reports the outcome of rolling back one trade.
type RollbackResult struct {
	TradeID string `json:"trade_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RollbackBatch is the per-item result list for one rollback request.
// Items are independent: one failure never blocks the rest.
type RollbackBatch struct {
	Status  string           `json:"status"`
	Results []RollbackResult `json:"results"`
}

// RollbackTrades reverses the given trades one at a time, each in its
// own atomic transaction. The returned batch preserves request order.
func (s *Service) RollbackTrades(ctx context.Context, tradeIDs []string) RollbackBatch {
	batch := RollbackBatch{Results: make([]RollbackResult, 0, len(tradeIDs))}

	succeeded := 0
	for _, id := range tradeIDs {
		res := RollbackResult{TradeID: id, Success: true}
		if err := s.rollbackOne(ctx, id); err != nil {
			res.Success = false
			res.Error = err.Error()
			s.observeRollback("failure")
		} else {
			succeeded++
			s.observeRollback("success")
		}
		batch.Results = append(batch.Results, res)
	}

	switch {
	case succeeded == len(tradeIDs) && len(tradeIDs) > 0:
		batch.Status = BatchOK
	case succeeded > 0:
		batch.Status = BatchPartial
	default:
		batch.Status = BatchFailed
	}

	slog.Info("rollback batch processed",
		"requested", len(tradeIDs),
		"succeeded", succeeded,
		"status", batch.Status,
	)
	return batch
}

func (s *Service) observeRollback(result string) {
	metrics.RollbacksTotal.WithLabelValues(result).Inc()
}

// rollbackOne reverses a single trade: restores the exact pre-trade
// pools, position, and balance, and marks the trade rolled back. The
// trade row itself is never deleted.
func (s *Service) rollbackOne(ctx context.Context, tradeID string) error {
	// Read outside the lock to learn which market to serialize on.
	tr, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTradeNotFound
		}
		return err
	}

	s.locks.Lock(tr.MarketID)
	defer s.locks.Unlock(tr.MarketID)

	err = s.store.Update(ctx, func(tx store.Tx) error {
		tr, err := tx.TradeForUpdate(ctx, tradeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTradeNotFound
			}
			return err
		}
		if tr.Type == model.TradeRedeem {
			return ErrRedeemNotReversible
		}
		if tr.IsRolledBack {
			return ErrAlreadyRolledBack
		}

		m, err := tx.MarketForUpdate(ctx, tr.MarketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}
		maker, err := amm.NewMaker(m.P)
		if err != nil {
			return err
		}

		dYes, dNo := poolDeltas(tr)
		newYes := m.PoolYes.Sub(dYes)
		newNo := m.PoolNo.Sub(dNo)
		if !newYes.IsPositive() || !newNo.IsPositive() {
			return ErrIntegrity
		}
		newVolume := m.Volume.Sub(tr.Amount)
		if newVolume.IsNegative() {
			return ErrIntegrity
		}

		pos, err := tx.PositionForUpdate(ctx, tr.UserID, tr.MarketID)
		if err != nil {
			return err
		}
		bal, err := tx.BalanceForUpdate(ctx, tr.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		switch tr.Type {
		case model.TradeBuy:
			// Undo the buy and its auto-redemption: give back the
			// redeemed opposite shares, take back the net shares
			// received, refund the net coin flow.
			if tr.Outcome == model.OutcomeYes {
				pos.YesShares = pos.YesShares.Sub(tr.Shares).Add(tr.Redeemed)
				pos.NoShares = pos.NoShares.Add(tr.Redeemed)
			} else {
				pos.NoShares = pos.NoShares.Sub(tr.Shares).Add(tr.Redeemed)
				pos.YesShares = pos.YesShares.Add(tr.Redeemed)
			}
			pos.TotalInvested = pos.TotalInvested.Sub(tr.Amount).Add(tr.Redeemed)
			bal = bal.Add(tr.Amount).Sub(tr.Redeemed)

		case model.TradeSell:
			if tr.Outcome == model.OutcomeYes {
				pos.YesShares = pos.YesShares.Add(tr.Shares)
			} else {
				pos.NoShares = pos.NoShares.Add(tr.Shares)
			}
			pos.TotalInvested = pos.TotalInvested.Add(tr.Amount)
			bal = bal.Sub(tr.Amount)
		}

		if pos.YesShares.IsNegative() || pos.NoShares.IsNegative() || bal.IsNegative() {
			return ErrIntegrity
		}

		newProb := maker.Probability(newYes, newNo)
		if err := tx.SetMarketState(ctx, m.ID, newYes, newNo, newProb, newVolume); err != nil {
			return err
		}
		pt := &model.ProbabilityPoint{
			MarketID:    m.ID,
			Probability: newProb,
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.InsertProbabilityPoint(ctx, pt); err != nil {
			return err
		}
		if err := tx.SetPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, tr.UserID, bal); err != nil {
			return err
		}
		if err := tx.MarkTradeRolledBack(ctx, tradeID); err != nil {
			return err
		}

		slog.Info("trade rolled back",
			"trade_id", tradeID,
			"market", m.ID,
			"user", tr.UserID,
			"type", tr.Type,
			"probability", newProb.String(),
		)

		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:        "trade_rolled_back",
				MarketID:    m.ID,
				Probability: newProb.String(),
			})
		}
		return nil
	})
	return err
}

// poolDeltas reconstructs the exact pool changes a trade applied, from
// the rounded amount/shares recorded on the trade row. The commit path
// derives pools with the same arithmetic, so subtraction restores the
// pre-trade pools bit for bit.
func poolDeltas(tr *model.Trade) (dYes, dNo decimal.Decimal) {
	switch tr.Type {
	case model.TradeBuy:
		if tr.Outcome == model.OutcomeYes {
			return tr.Amount.Sub(tr.Shares), tr.Amount
		}
		return tr.Amount, tr.Amount.Sub(tr.Shares)
	case model.TradeSell:
		if tr.Outcome == model.OutcomeYes {
			return tr.Shares.Sub(tr.Amount), tr.Amount.Neg()
		}
		return tr.Amount.Neg(), tr.Shares.Sub(tr.Amount)
	}
	return decimal.Zero, decimal.Zero
}
