package trade_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/store"
	"github.com/playmoney/market-engine/internal/trade"
)

// newTestRouter creates a Service wired to an in-memory store and
// mounts it the way cmd/server does.
func newTestRouter(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := trade.NewService(ms, nil, trade.Options{})

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func createMarket(t *testing.T, router chi.Router, prob float64) model.Market {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/markets", trade.CreateMarketRequest{
		Question:           "Will it rain tomorrow?",
		InitialProbability: d(prob),
		InitialLiquidity:   d(1000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Market](t, w)
}

func createProfile(t *testing.T, router chi.Router, userID string) model.Profile {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/profiles", trade.CreateProfileRequest{
		UserID: userID, Username: userID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create profile: %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Profile](t, w)
}

func TestCreateMarketHandler(t *testing.T) {
	_, router := newTestRouter(t)

	m := createMarket(t, router, 0.6)
	if m.ID == "" {
		t.Error("expected non-empty market id")
	}
	if m.Status != model.StatusActive {
		t.Errorf("status = %q, want active", m.Status)
	}
	if !m.Probability.Equal(d(0.6)) {
		t.Errorf("probability = %s, want 0.6", m.Probability)
	}
	if !m.PoolYes.Equal(d(1000)) || !m.PoolNo.Equal(d(1000)) {
		t.Errorf("pools = %s/%s, want 1000/1000", m.PoolYes, m.PoolNo)
	}
	if !m.TotalLiquidity.Equal(d(1000)) {
		t.Errorf("total_liquidity = %s, want 1000", m.TotalLiquidity)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	_, router := newTestRouter(t)

	tests := []struct {
		name string
		req  trade.CreateMarketRequest
	}{
		{"missing question", trade.CreateMarketRequest{InitialProbability: d(0.5)}},
		{"probability too high", trade.CreateMarketRequest{Question: "q", InitialProbability: d(1.5)}},
		{"zero probability", trade.CreateMarketRequest{Question: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/markets", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", w.Code)
			}
		})
	}
}

func TestCreateProfileHandler(t *testing.T) {
	_, router := newTestRouter(t)

	p := createProfile(t, router, "alice")
	if !p.Balance.Equal(d(1000)) {
		t.Errorf("starting balance = %s, want 1000", p.Balance)
	}

	// Duplicate user id collides.
	w := doJSON(t, router, "POST", "/api/v1/profiles", trade.CreateProfileRequest{UserID: "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate profile: code = %d, want 409", w.Code)
	}
}

func TestPlaceTradeHandler(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		UserID:   "alice",
		MarketID: m.ID,
		Type:     model.TradeBuy,
		Outcome:  model.OutcomeYes,
		Amount:   d(100),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	resp := decode[trade.TradeResponse](t, w)
	if resp.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	if resp.Shares.LessThanOrEqual(d(100)) {
		t.Errorf("shares = %s, want > 100", resp.Shares)
	}
	if !resp.Balance.Equal(d(900)) {
		t.Errorf("balance = %s, want 900", resp.Balance)
	}
	if resp.Probability.LessThanOrEqual(d(0.5)) {
		t.Errorf("probability = %s, want > 0.5", resp.Probability)
	}
	if !resp.Position.YesShares.Equal(resp.Shares) {
		t.Errorf("position yes_shares = %s, want %s", resp.Position.YesShares, resp.Shares)
	}
}

func TestPlaceTradeHandlerErrors(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	tests := []struct {
		name string
		req  trade.TradeRequest
		code int
	}{
		{
			"missing user",
			trade.TradeRequest{MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(10)},
			http.StatusBadRequest,
		},
		{
			"bad type",
			trade.TradeRequest{UserID: "alice", MarketID: m.ID, Type: "SHORT", Outcome: "YES", Amount: d(10)},
			http.StatusBadRequest,
		},
		{
			"unknown market",
			trade.TradeRequest{UserID: "alice", MarketID: "nope", Type: "BUY", Outcome: "YES", Amount: d(10)},
			http.StatusNotFound,
		},
		{
			"insufficient balance",
			trade.TradeRequest{UserID: "alice", MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(5000)},
			http.StatusConflict,
		},
		{
			"sell without shares",
			trade.TradeRequest{UserID: "alice", MarketID: m.ID, Type: "SELL", Outcome: "NO", Shares: d(10)},
			http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/trade", tt.req)
			if w.Code != tt.code {
				t.Errorf("code = %d, want %d: %s", w.Code, tt.code, w.Body.String())
			}
		})
	}
}

func TestRollbackHandler(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		UserID: "alice", MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(100),
	})
	resp := decode[trade.TradeResponse](t, w)

	w = doJSON(t, router, "POST", "/api/v1/trades/rollback", trade.RollbackRequest{
		TradeIDs: []string{resp.TradeID, "no-such-trade"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	batch := decode[trade.RollbackBatch](t, w)
	if batch.Status != trade.BatchPartial {
		t.Errorf("status = %q, want %q", batch.Status, trade.BatchPartial)
	}
	if len(batch.Results) != 2 || !batch.Results[0].Success || batch.Results[1].Success {
		t.Errorf("results = %+v, want one success then one failure", batch.Results)
	}

	// Empty id list is a request error, not an empty batch.
	w = doJSON(t, router, "POST", "/api/v1/trades/rollback", trade.RollbackRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: code = %d, want 400", w.Code)
	}
}

func TestResolveHandler(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", trade.ResolveRequest{Resolution: "YES"})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	resolved := decode[model.Market](t, w)
	if resolved.Status != model.StatusResolved || resolved.Resolution != "YES" {
		t.Errorf("market = %s/%s, want resolved/YES", resolved.Status, resolved.Resolution)
	}

	// Trading against a resolved market conflicts.
	w = doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		UserID: "alice", MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(10),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("trade after resolve: code = %d, want 409", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", trade.ResolveRequest{Resolution: "PERHAPS"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid resolution: code = %d, want 400", w.Code)
	}
}

func TestGetPortfolioHandler(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		UserID: "alice", MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(100),
	})

	w := doJSON(t, router, "GET", "/api/v1/portfolio/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	p := decode[trade.Portfolio](t, w)
	if !p.Balance.Equal(d(900)) {
		t.Errorf("balance = %s, want 900", p.Balance)
	}
	if len(p.Positions) != 1 || p.Positions[0].MarketID != m.ID {
		t.Errorf("positions = %+v, want one on %s", p.Positions, m.ID)
	}

	w = doJSON(t, router, "GET", "/api/v1/portfolio/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: code = %d, want 404", w.Code)
	}
}

func TestMarketFeedHandlers(t *testing.T) {
	_, router := newTestRouter(t)
	m := createMarket(t, router, 0.5)
	createProfile(t, router, "alice")

	for i := 0; i < 3; i++ {
		w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
			UserID: "alice", MarketID: m.ID, Type: "BUY", Outcome: "YES", Amount: d(10),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("trade %d: %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := doJSON(t, router, "GET", "/api/v1/markets/"+m.ID+"/trades?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trades feed: %d", w.Code)
	}
	trades := decode[[]model.Trade](t, w)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades with limit=2, got %d", len(trades))
	}
	// Newest first.
	if trades[0].CreatedAt.Before(trades[1].CreatedAt) {
		t.Error("trade feed should be newest first")
	}

	w = doJSON(t, router, "GET", "/api/v1/markets/"+m.ID+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	points := decode[[]model.ProbabilityPoint](t, w)
	if len(points) != 3 {
		t.Fatalf("expected 3 history samples, got %d", len(points))
	}
	// Chronological, monotonically rising: three YES buys.
	last := decimal.Zero
	for i, pt := range points {
		if pt.Probability.LessThanOrEqual(last) {
			t.Errorf("sample %d = %s, want strictly above %s", i, pt.Probability, last)
		}
		last = pt.Probability
	}

	w = doJSON(t, router, "GET", "/api/v1/markets/"+m.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get market: %d", w.Code)
	}
	got := decode[model.Market](t, w)
	if !got.Volume.Equal(d(30)) {
		t.Errorf("volume = %s, want 30", got.Volume)
	}

	w = doJSON(t, router, "GET", "/api/v1/markets?status=active", nil)
	markets := decode[[]model.Market](t, w)
	if len(markets) != 1 {
		t.Errorf("expected 1 active market, got %d", len(markets))
	}
}
