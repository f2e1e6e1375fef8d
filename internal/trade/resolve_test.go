package trade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/resolution"
	"github.com/playmoney/market-engine/internal/trade"
)

func TestResolveYes(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)
	seedProfile(t, ms, "alice", 1000)
	seedProfile(t, ms, "bob", 1000)

	yesBuy := buy(t, svc, "alice", "m1", model.OutcomeYes, 100)
	buy(t, svc, "bob", "m1", model.OutcomeNo, 100)

	m, err := svc.Resolve(context.Background(), "m1", "YES")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Status != model.StatusResolved || m.Resolution != "YES" {
		t.Errorf("market = %s/%s, want resolved/YES", m.Status, m.Resolution)
	}
	if !m.Probability.Equal(decimal.NewFromInt(1)) {
		t.Errorf("settled probability = %s, want 1", m.Probability)
	}
	if m.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}

	// Winners get 1 coin per YES share; losers get nothing.
	wantAlice := d(900).Add(yesBuy.Trade.Shares)
	if got := getBalance(t, ms, "alice"); !got.Equal(wantAlice) {
		t.Errorf("alice balance = %s, want %s", got, wantAlice)
	}
	if got := getBalance(t, ms, "bob"); !got.Equal(d(900)) {
		t.Errorf("bob balance = %s, want 900", got)
	}

	// All holdings zeroed; invested kept as the historical record.
	for _, user := range []string{"alice", "bob"} {
		pos := getPosition(t, ms, user, "m1")
		if !pos.YesShares.IsZero() || !pos.NoShares.IsZero() {
			t.Errorf("%s position = %s/%s, want 0/0", user, pos.YesShares, pos.NoShares)
		}
		if !pos.TotalInvested.Equal(d(100)) {
			t.Errorf("%s total_invested = %s, want 100", user, pos.TotalInvested)
		}
	}

	// Final history sample carries the settled probability.
	points, _ := ms.ProbabilityHistory(context.Background(), "m1", 10)
	if len(points) != 3 {
		t.Fatalf("expected 3 history samples (2 trades + resolution), got %d", len(points))
	}
	if !points[2].Probability.Equal(decimal.NewFromInt(1)) {
		t.Errorf("final sample = %s, want 1", points[2].Probability)
	}
}

func TestResolveNo(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)
	seedProfile(t, ms, "bob", 1000)

	noBuy := buy(t, svc, "bob", "m1", model.OutcomeNo, 100)

	m, err := svc.Resolve(context.Background(), "m1", "NO")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !m.Probability.IsZero() {
		t.Errorf("settled probability = %s, want 0", m.Probability)
	}
	want := d(900).Add(noBuy.Trade.Shares)
	if got := getBalance(t, ms, "bob"); !got.Equal(want) {
		t.Errorf("bob balance = %s, want %s", got, want)
	}
}

func TestResolveFractional(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)
	seedProfile(t, ms, "alice", 1000)
	seedProfile(t, ms, "bob", 1000)

	yesBuy := buy(t, svc, "alice", "m1", model.OutcomeYes, 100)
	noBuy := buy(t, svc, "bob", "m1", model.OutcomeNo, 100)

	m, err := svc.Resolve(context.Background(), "m1", "0.7")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Resolution != "0.7" {
		t.Errorf("resolution = %q, want 0.7", m.Resolution)
	}
	if !m.Probability.Equal(d(0.7)) {
		t.Errorf("settled probability = %s, want 0.7", m.Probability)
	}

	wantAlice := d(900).Add(yesBuy.Trade.Shares.Mul(d(0.7)))
	if got := getBalance(t, ms, "alice"); !got.Equal(wantAlice) {
		t.Errorf("alice balance = %s, want %s", got, wantAlice)
	}
	wantBob := d(900).Add(noBuy.Trade.Shares.Mul(d(0.3)))
	if got := getBalance(t, ms, "bob"); !got.Equal(wantBob) {
		t.Errorf("bob balance = %s, want %s", got, wantBob)
	}
}

func TestResolveNoContest(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)
	seedProfile(t, ms, "alice", 1000)

	buy(t, svc, "alice", "m1", model.OutcomeYes, 100)
	lastProb := getMarket(t, ms, "m1").Probability

	m, err := svc.Resolve(context.Background(), "m1", "N/A")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Resolution != "N/A" {
		t.Errorf("resolution = %q, want N/A", m.Resolution)
	}
	// No outcome was fixed: the last traded probability is carried.
	if !m.Probability.Equal(lastProb) {
		t.Errorf("settled probability = %s, want last traded %s", m.Probability, lastProb)
	}

	// Shares expire worthless; nothing is credited.
	if got := getBalance(t, ms, "alice"); !got.Equal(d(900)) {
		t.Errorf("alice balance = %s, want 900", got)
	}
	pos := getPosition(t, ms, "alice", "m1")
	if !pos.YesShares.IsZero() {
		t.Errorf("yes_shares = %s, want 0", pos.YesShares)
	}
}

func TestResolveRejectsFurtherTrades(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)
	seedProfile(t, ms, "alice", 1000)

	if _, err := svc.Resolve(context.Background(), "m1", "YES"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err := svc.Execute(context.Background(), trade.TradeCommand{
		UserID: "alice", MarketID: "m1", Type: model.TradeBuy, Outcome: model.OutcomeYes, Amount: d(10),
	})
	if !errors.Is(err, trade.ErrMarketClosed) {
		t.Fatalf("trade after resolve: err = %v, want ErrMarketClosed", err)
	}

	if _, err := svc.Resolve(context.Background(), "m1", "NO"); !errors.Is(err, trade.ErrMarketClosed) {
		t.Fatalf("second resolve: err = %v, want ErrMarketClosed", err)
	}
}

func TestResolveInvalidValue(t *testing.T) {
	svc, ms := newTestService(t)
	seedMarket(t, ms, "m1", 0.5, 1000)

	for _, value := range []string{"MAYBE", "1.5", "-0.1", ""} {
		if _, err := svc.Resolve(context.Background(), "m1", value); !errors.Is(err, resolution.ErrInvalidResolution) {
			t.Errorf("resolve(%q): err = %v, want ErrInvalidResolution", value, err)
		}
	}
	if getMarket(t, ms, "m1").Status != model.StatusActive {
		t.Error("invalid resolution must not close the market")
	}
}

func TestResolveUnknownMarket(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Resolve(context.Background(), "nope", "YES"); !errors.Is(err, trade.ErrMarketNotFound) {
		t.Fatalf("err = %v, want ErrMarketNotFound", err)
	}
}
