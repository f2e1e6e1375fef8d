// Package trade implements the engine's operations — market creation,
// trade execution, rollback, resolution — and their HTTP handlers.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/amm"
	"github.com/playmoney/market-engine/internal/marketlock"
	"github.com/playmoney/market-engine/internal/metrics"
	"github.com/playmoney/market-engine/internal/model"
	"github.com/playmoney/market-engine/internal/resolution"
	"github.com/playmoney/market-engine/internal/store"
)

// Service holds the engine's dependencies. Trades on the same market
// are serialized through a set of keyed locks; different markets run
// concurrently.
type Service struct {
	store store.Store
	locks *marketlock.Set
	hub   *WSHub // optional; nil disables broadcasts

	retries          int
	startingBalance  decimal.Decimal
	defaultLiquidity decimal.Decimal
	recentTradesCap  int
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	StartingBalance  decimal.Decimal
	DefaultLiquidity decimal.Decimal
	TradeRetries     int
	RecentTradesCap  int
}

// NewService creates a trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, hub *WSHub, opts Options) *Service {
	if opts.TradeRetries <= 0 {
		opts.TradeRetries = 3
	}
	if opts.RecentTradesCap <= 0 {
		opts.RecentTradesCap = 50
	}
	if !opts.StartingBalance.IsPositive() {
		opts.StartingBalance = decimal.NewFromInt(1000)
	}
	if !opts.DefaultLiquidity.IsPositive() {
		opts.DefaultLiquidity = decimal.NewFromInt(1000)
	}
	return &Service{
		store:            st,
		locks:            marketlock.NewSet(),
		hub:              hub,
		retries:          opts.TradeRetries,
		startingBalance:  opts.StartingBalance,
		defaultLiquidity: opts.DefaultLiquidity,
		recentTradesCap:  opts.RecentTradesCap,
	}
}

// Routes mounts all engine endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/trades", s.GetMarketTrades)
	r.Get("/markets/{marketID}/history", s.GetMarketHistory)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Post("/trade", s.PlaceTrade)
	r.Post("/trades/rollback", s.RollbackHandler)
	r.Post("/profiles", s.CreateProfile)
	r.Get("/portfolio/{userID}", s.GetPortfolio)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question           string          `json:"question"`
	Description        string          `json:"description"`
	InitialProbability decimal.Decimal `json:"initial_probability"`
	InitialLiquidity   decimal.Decimal `json:"initial_liquidity"` // 0 → configured default
}

// CreateProfileRequest is the JSON body for profile creation.
type CreateProfileRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Type     string          `json:"type"`    // "BUY", "SELL", "REDEEM"
	Outcome  string          `json:"outcome"` // "YES" or "NO"
	Amount   decimal.Decimal `json:"amount"`  // BUY: coins to spend
	Shares   decimal.Decimal `json:"shares"`  // SELL: shares; REDEEM: pairs
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TradeID     string          `json:"trade_id"`
	Type        string          `json:"type"`
	Outcome     string          `json:"outcome"`
	Amount      decimal.Decimal `json:"amount"`
	Shares      decimal.Decimal `json:"shares"`
	Redeemed    decimal.Decimal `json:"redeemed"`
	Probability decimal.Decimal `json:"probability"`
	Balance     decimal.Decimal `json:"balance"`
	Position    PositionSummary `json:"position"`
}

// PositionSummary is the position snapshot included in trade responses.
type PositionSummary struct {
	YesShares     decimal.Decimal `json:"yes_shares"`
	NoShares      decimal.Decimal `json:"no_shares"`
	TotalInvested decimal.Decimal `json:"total_invested"`
}

// RollbackRequest is the JSON body for POST /trades/rollback.
type RollbackRequest struct {
	TradeIDs []string `json:"trade_ids"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"` // "YES", "NO", "N/A", or "0".."1"
}

// Portfolio is the response for GET /portfolio/{userID}.
type Portfolio struct {
	UserID    string           `json:"user_id"`
	Username  string           `json:"username"`
	Balance   decimal.Decimal  `json:"balance"`
	Positions []model.Position `json:"positions"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	liquidity := req.InitialLiquidity
	if liquidity.LessThanOrEqual(decimal.Zero) {
		liquidity = s.defaultLiquidity
	}

	poolYes, poolNo, p, err := amm.SeedPools(req.InitialProbability, liquidity)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	market := &model.Market{
		ID:             uuid.New().String(),
		Question:       req.Question,
		Description:    req.Description,
		PoolYes:        poolYes,
		PoolNo:         poolNo,
		P:              p,
		Probability:    req.InitialProbability,
		TotalLiquidity: liquidity,
		Volume:         decimal.Zero,
		Status:         model.StatusActive,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), httpStatus(err))
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"question", market.Question,
		"probability", market.Probability.String(),
		"liquidity", liquidity.String(),
	)

	writeJSON(w, http.StatusCreated, market)
}

// CreateProfile handles POST /api/v1/profiles
// Seeds the profile with the configured starting balance.
func (s *Service) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	profile := &model.Profile{
		ID:        req.UserID,
		Username:  req.Username,
		Balance:   s.startingBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateProfile(r.Context(), profile); err != nil {
		writeError(w, err.Error(), httpStatus(err))
		return
	}

	slog.Info("profile created", "user", req.UserID, "balance", profile.Balance.String())
	writeJSON(w, http.StatusCreated, profile)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?status=active|resolved|cancelled.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.Market, 0, len(markets))
		for _, m := range markets {
			if m.Status == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades
// Returns the most recent trades, newest first, capped by ?limit=.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, s.recentTradesCap)
	trades, err := s.store.RecentTrades(r.Context(), chi.URLParam(r, "marketID"), limit)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the probability series in chronological order.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 1000)
	points, err := s.store.ProbabilityHistory(r.Context(), chi.URLParam(r, "marketID"), limit)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.ProbabilityPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// PlaceTrade handles POST /api/v1/trade
func (s *Service) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.Execute(r.Context(), TradeCommand{
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Type:     req.Type,
		Outcome:  req.Outcome,
		Amount:   req.Amount,
		Shares:   req.Shares,
	})
	if err != nil {
		writeError(w, err.Error(), httpStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, TradeResponse{
		TradeID:     res.Trade.ID,
		Type:        res.Trade.Type,
		Outcome:     res.Trade.Outcome,
		Amount:      res.Trade.Amount,
		Shares:      res.Trade.Shares,
		Redeemed:    res.Trade.Redeemed,
		Probability: res.Probability,
		Balance:     res.Balance,
		Position: PositionSummary{
			YesShares:     res.Position.YesShares,
			NoShares:      res.Position.NoShares,
			TotalInvested: res.Position.TotalInvested,
		},
	})
}

// RollbackHandler handles POST /api/v1/trades/rollback
// Always returns 200 with per-item results; the batch status reports
// whether all, some, or none of the items succeeded.
func (s *Service) RollbackHandler(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.TradeIDs) == 0 {
		writeError(w, "trade_ids is required", http.StatusBadRequest)
		return
	}

	batch := s.RollbackTrades(r.Context(), req.TradeIDs)
	writeJSON(w, http.StatusOK, batch)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.Resolve(r.Context(), chi.URLParam(r, "marketID"), req.Resolution)
	if err != nil {
		writeError(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns balance plus all positions.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		writeError(w, "profile not found", http.StatusNotFound)
		return
	}
	positions, err := s.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, Portfolio{
		UserID:    userID,
		Username:  profile.Username,
		Balance:   profile.Balance,
		Positions: positions,
	})
}

// --- helpers ---

// httpStatus maps engine errors onto HTTP status codes: validation
// failures are 400, missing entities 404, state conflicts 409.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrMarketNotFound),
		errors.Is(err, ErrTradeNotFound),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidShares),
		errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, amm.ErrInvalidShares),
		errors.Is(err, amm.ErrInvalidWeight),
		errors.Is(err, amm.ErrInvalidPools),
		errors.Is(err, resolution.ErrInvalidResolution):
		return http.StatusBadRequest
	case errors.Is(err, ErrMarketClosed),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, amm.ErrProbabilityBound),
		errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return max
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
