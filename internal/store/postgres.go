package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/playmoney/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Update opens one transaction; ForUpdate reads take row locks, and
// serialization failures are surfaced as ErrConflict for the caller to
// retry with a fresh quote.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, question, COALESCE(description, ''),
	pool_yes::TEXT, pool_no::TEXT, p::TEXT, probability::TEXT,
	total_liquidity::TEXT, volume::TEXT,
	status, COALESCE(resolution, ''), resolved_at, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, description, pool_yes, pool_no, p, probability,
		                      total_liquidity, volume, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		m.ID, m.Question, m.Description,
		m.PoolYes.String(), m.PoolNo.String(), m.P.String(), m.Probability.String(),
		m.TotalLiquidity.String(), m.Volume.String(),
		m.Status, m.CreatedAt,
	)
	return convertErr(err)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, username, balance, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		p.ID, p.Username, p.Balance.String(), p.CreatedAt,
	)
	return convertErr(err)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, convertErr(err))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, created_at FROM profiles WHERE id = $1`, userID).
		Scan(&p.ID, &p.Username, &balance, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, convertErr(err))
	}
	p.Balance, _ = decimal.NewFromString(balance)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	p, err := queryPosition(ctx, s.pool, userID, marketID, false)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, yes_shares::TEXT, no_shares::TEXT, total_invested::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY market_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, convertErr(err))
	}
	return t, nil
}

func (s *PostgresStore) RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE market_id = $1 ORDER BY created_at DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ProbabilityHistory(ctx context.Context, marketID string, limit int) ([]model.ProbabilityPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, probability::TEXT, created_at FROM (
		     SELECT market_id, probability, created_at
		     FROM probability_history WHERE market_id = $1
		     ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.ProbabilityPoint
	for rows.Next() {
		var pt model.ProbabilityPoint
		var prob string
		if err := rows.Scan(&pt.MarketID, &prob, &pt.CreatedAt); err != nil {
			return nil, err
		}
		pt.Probability, _ = decimal.NewFromString(prob)
		points = append(points, pt)
	}
	return points, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return convertErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return convertErr(err)
	}
	return convertErr(tx.Commit(ctx))
}

// pgTx implements Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, convertErr(err)
	}
	return m, nil
}

func (t *pgTx) PositionForUpdate(ctx context.Context, userID, marketID string) (*model.Position, error) {
	return queryPosition(ctx, t.tx, userID, marketID, true)
}

func (t *pgTx) PositionsForUpdate(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, market_id, yes_shares::TEXT, no_shares::TEXT, total_invested::TEXT
		 FROM positions WHERE market_id = $1 ORDER BY user_id FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (t *pgTx) BalanceForUpdate(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := t.tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM profiles WHERE id = $1 FOR UPDATE`, userID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, convertErr(err)
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (t *pgTx) TradeForUpdate(ctx context.Context, id string) (*model.Trade, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id)
	tr, err := scanTrade(row)
	if err != nil {
		return nil, convertErr(err)
	}
	return tr, nil
}

func (t *pgTx) SetMarketState(ctx context.Context, id string, poolYes, poolNo, probability, volume decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC,
		     probability = $4::NUMERIC, volume = $5::NUMERIC
		 WHERE id = $1`,
		id, poolYes.String(), poolNo.String(), probability.String(), volume.String(),
	)
	if err != nil {
		return convertErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetMarketResolved(ctx context.Context, id, resolution string, probability decimal.Decimal, resolvedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET status = $2, resolution = $3, probability = $4::NUMERIC, resolved_at = $5
		 WHERE id = $1`,
		id, model.StatusResolved, resolution, probability.String(), resolvedAt,
	)
	if err != nil {
		return convertErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_shares, no_shares, total_invested)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET yes_shares = EXCLUDED.yes_shares,
		     no_shares = EXCLUDED.no_shares,
		     total_invested = EXCLUDED.total_invested`,
		p.UserID, p.MarketID,
		p.YesShares.String(), p.NoShares.String(), p.TotalInvested.String(),
	)
	return convertErr(err)
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE profiles SET balance = $2::NUMERIC WHERE id = $1`,
		userID, balance.String(),
	)
	if err != nil {
		return convertErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, type, outcome, amount, shares, redeemed,
		                     prob_before, prob_after, is_rolled_back, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		tr.ID, tr.MarketID, tr.UserID, tr.Type, tr.Outcome,
		tr.Amount.String(), tr.Shares.String(), tr.Redeemed.String(),
		tr.ProbBefore.String(), tr.ProbAfter.String(),
		tr.IsRolledBack, tr.CreatedAt,
	)
	return convertErr(err)
}

func (t *pgTx) MarkTradeRolledBack(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE trades SET is_rolled_back = TRUE WHERE id = $1`, id)
	if err != nil {
		return convertErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertProbabilityPoint(ctx context.Context, pt *model.ProbabilityPoint) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO probability_history (market_id, probability, created_at)
		 VALUES ($1, $2::NUMERIC, $3)`,
		pt.MarketID, pt.Probability.String(), pt.CreatedAt,
	)
	return convertErr(err)
}

// --- row scanning helpers ---

const tradeColumns = `id, market_id, user_id, type, outcome,
	amount::TEXT, shares::TEXT, redeemed::TEXT,
	prob_before::TEXT, prob_after::TEXT, is_rolled_back, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var poolYes, poolNo, p, prob, liquidity, volume string

	err := row.Scan(&m.ID, &m.Question, &m.Description,
		&poolYes, &poolNo, &p, &prob,
		&liquidity, &volume,
		&m.Status, &m.Resolution, &m.ResolvedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.PoolYes, _ = decimal.NewFromString(poolYes)
	m.PoolNo, _ = decimal.NewFromString(poolNo)
	m.P, _ = decimal.NewFromString(p)
	m.Probability, _ = decimal.NewFromString(prob)
	m.TotalLiquidity, _ = decimal.NewFromString(liquidity)
	m.Volume, _ = decimal.NewFromString(volume)

	return &m, nil
}

func scanTrade(row rowScanner) (*model.Trade, error) {
	var t model.Trade
	var amount, shares, redeemed, probBefore, probAfter string

	err := row.Scan(&t.ID, &t.MarketID, &t.UserID, &t.Type, &t.Outcome,
		&amount, &shares, &redeemed,
		&probBefore, &probAfter, &t.IsRolledBack, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.Amount, _ = decimal.NewFromString(amount)
	t.Shares, _ = decimal.NewFromString(shares)
	t.Redeemed, _ = decimal.NewFromString(redeemed)
	t.ProbBefore, _ = decimal.NewFromString(probBefore)
	t.ProbAfter, _ = decimal.NewFromString(probAfter)

	return &t, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var yes, no, invested string

		if err := rows.Scan(&p.UserID, &p.MarketID, &yes, &no, &invested); err != nil {
			return nil, err
		}
		p.YesShares, _ = decimal.NewFromString(yes)
		p.NoShares, _ = decimal.NewFromString(no)
		p.TotalInvested, _ = decimal.NewFromString(invested)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// queryPosition reads one position row, returning an empty position when
// none exists. forUpdate controls row locking.
func queryPosition(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, userID, marketID string, forUpdate bool) (*model.Position, error) {
	sql := `SELECT user_id, market_id, yes_shares::TEXT, no_shares::TEXT, total_invested::TEXT
	        FROM positions WHERE user_id = $1 AND market_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var p model.Position
	var yes, no, invested string
	err := q.QueryRow(ctx, sql, userID, marketID).
		Scan(&p.UserID, &p.MarketID, &yes, &no, &invested)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Position{
			UserID:        userID,
			MarketID:      marketID,
			YesShares:     decimal.Zero,
			NoShares:      decimal.Zero,
			TotalInvested: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, convertErr(err)
	}

	p.YesShares, _ = decimal.NewFromString(yes)
	p.NoShares, _ = decimal.NewFromString(no)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	return &p, nil
}

// convertErr maps driver errors onto the store's sentinel errors.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrExists
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return err
}
