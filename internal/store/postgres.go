package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The trade commit runs in a serializable transaction so the ledger,
// position book, and trade log can never diverge.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist, so the
// service can run against a fresh database.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS portfolios (
			id               UUID PRIMARY KEY,
			trader_id        TEXT NOT NULL UNIQUE,
			starting_balance NUMERIC NOT NULL,
			cash_balance     NUMERIC NOT NULL CHECK (cash_balance >= 0),
			total_value      NUMERIC NOT NULL,
			realized_pl      NUMERIC NOT NULL,
			total_pl_pct     NUMERIC NOT NULL,
			total_trades     BIGINT NOT NULL DEFAULT 0,
			winning_trades   BIGINT NOT NULL DEFAULT 0,
			losing_trades    BIGINT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			trader_id         TEXT NOT NULL,
			symbol            TEXT NOT NULL,
			quantity          BIGINT NOT NULL CHECK (quantity > 0),
			avg_price         NUMERIC NOT NULL,
			current_price     NUMERIC NOT NULL,
			unrealized_pl     NUMERIC NOT NULL,
			unrealized_pl_pct NUMERIC NOT NULL,
			opened_at         TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (trader_id, symbol)
		);
		CREATE TABLE IF NOT EXISTS trades (
			id          UUID PRIMARY KEY,
			trader_id   TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    BIGINT NOT NULL,
			price       NUMERIC NOT NULL,
			fee         NUMERIC NOT NULL,
			total       NUMERIC NOT NULL,
			realized_pl NUMERIC NOT NULL,
			status      TEXT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS trades_trader_executed_idx
			ON trades (trader_id, executed_at DESC);
	`)
	return err
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, trader_id, starting_balance, cash_balance, total_value,
		                         realized_pl, total_pl_pct, total_trades, winning_trades,
		                         losing_trades, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12)
		 ON CONFLICT (trader_id) DO NOTHING`,
		p.ID, p.TraderID,
		p.StartingBalance.String(), p.CashBalance.String(), p.TotalValue.String(),
		p.RealizedPL.String(), p.TotalPLPct.String(),
		p.TotalTrades, p.WinningTrades, p.LosingTrades,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create portfolio %s: %w", p.TraderID, err)
	}
	// ON CONFLICT DO NOTHING swallows the duplicate; detect it explicitly.
	var existingID string
	if err := s.pool.QueryRow(ctx,
		`SELECT id FROM portfolios WHERE trader_id = $1`, p.TraderID).Scan(&existingID); err != nil {
		return fmt.Errorf("create portfolio %s: %w", p.TraderID, err)
	}
	if existingID != p.ID {
		return ErrAlreadyExists
	}
	return nil
}

const portfolioColumns = `id, trader_id,
	starting_balance::TEXT, cash_balance::TEXT, total_value::TEXT,
	realized_pl::TEXT, total_pl_pct::TEXT,
	total_trades, winning_trades, losing_trades, created_at, updated_at`

func (s *PostgresStore) GetPortfolio(ctx context.Context, traderID string) (*model.Portfolio, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE trader_id = $1`, traderID)
	p, err := scanPortfolio(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio %s: %w", traderID, err)
	}
	return p, nil
}

const positionColumns = `trader_id, symbol, quantity,
	avg_price::TEXT, current_price::TEXT, unrealized_pl::TEXT, unrealized_pl_pct::TEXT,
	opened_at, updated_at`

func (s *PostgresStore) GetPosition(ctx context.Context, traderID, symbol string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE trader_id = $1 AND symbol = $2`,
		traderID, symbol)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get position %s/%s: %w", traderID, symbol, err)
	}
	return pos, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, traderID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE trader_id = $1 ORDER BY symbol`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// ApplyTrade commits the ledger debit/credit, the position change, and the
// trade record in one serializable transaction.
func (s *PostgresStore) ApplyTrade(ctx context.Context, mut *TradeMutation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p := mut.Portfolio
	tag, err := tx.Exec(ctx,
		`UPDATE portfolios
		 SET cash_balance = $2::NUMERIC, total_value = $3::NUMERIC,
		     realized_pl = $4::NUMERIC, total_pl_pct = $5::NUMERIC,
		     total_trades = $6, winning_trades = $7, losing_trades = $8,
		     updated_at = $9
		 WHERE trader_id = $1`,
		p.TraderID,
		p.CashBalance.String(), p.TotalValue.String(),
		p.RealizedPL.String(), p.TotalPLPct.String(),
		p.TotalTrades, p.WinningTrades, p.LosingTrades,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if mut.ClosePosition {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE trader_id = $1 AND symbol = $2`,
			p.TraderID, mut.Trade.Symbol); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
	} else if mut.Position != nil {
		pos := mut.Position
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (trader_id, symbol, quantity, avg_price, current_price,
			                        unrealized_pl, unrealized_pl_pct, opened_at, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
			 ON CONFLICT (trader_id, symbol) DO UPDATE
			 SET quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price,
			     current_price = EXCLUDED.current_price, unrealized_pl = EXCLUDED.unrealized_pl,
			     unrealized_pl_pct = EXCLUDED.unrealized_pl_pct, updated_at = EXCLUDED.updated_at`,
			pos.TraderID, pos.Symbol, pos.Quantity,
			pos.AvgPrice.String(), pos.CurrentPrice.String(),
			pos.UnrealizedPL.String(), pos.UnrealizedPLPct.String(),
			pos.OpenedAt, pos.UpdatedAt); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	t := mut.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, trader_id, symbol, side, quantity, price, fee, total,
		                     realized_pl, status, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		t.ID, t.TraderID, t.Symbol, string(t.Side), t.Quantity,
		t.Price.String(), t.Fee.String(), t.Total.String(), t.RealizedPL.String(),
		string(t.Status), t.ExecutedAt); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateValuation writes refreshed mark-to-market values. cash_balance is
// deliberately absent from the UPDATE.
func (s *PostgresStore) UpdateValuation(ctx context.Context, p *model.Portfolio, positions []model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin valuation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE portfolios
		 SET total_value = $2::NUMERIC, total_pl_pct = $3::NUMERIC, updated_at = $4
		 WHERE trader_id = $1`,
		p.TraderID, p.TotalValue.String(), p.TotalPLPct.String(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update portfolio valuation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	for i := range positions {
		pos := &positions[i]
		if _, err := tx.Exec(ctx,
			`UPDATE positions
			 SET current_price = $3::NUMERIC, unrealized_pl = $4::NUMERIC,
			     unrealized_pl_pct = $5::NUMERIC, updated_at = $6
			 WHERE trader_id = $1 AND symbol = $2`,
			pos.TraderID, pos.Symbol,
			pos.CurrentPrice.String(), pos.UnrealizedPL.String(),
			pos.UnrealizedPLPct.String(), pos.UpdatedAt); err != nil {
			return fmt.Errorf("update position valuation %s: %w", pos.Symbol, err)
		}
	}

	return tx.Commit(ctx)
}

const tradeColumns = `id, trader_id, symbol, side, quantity,
	price::TEXT, fee::TEXT, total::TEXT, realized_pl::TEXT, status, executed_at`

func (s *PostgresStore) ListTrades(ctx context.Context, traderID string, limit, offset int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE trader_id = $1 ORDER BY executed_at DESC LIMIT $2 OFFSET $3`,
		traderID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradeHistory(ctx context.Context, traderID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE trader_id = $1 ORDER BY executed_at`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// --- row scanning ---

type scannable interface {
	Scan(dest ...any) error
}

func scanPortfolio(row scannable) (*model.Portfolio, error) {
	var p model.Portfolio
	var startS, cashS, totalS, realizedS, plPctS string

	if err := row.Scan(&p.ID, &p.TraderID,
		&startS, &cashS, &totalS, &realizedS, &plPctS,
		&p.TotalTrades, &p.WinningTrades, &p.LosingTrades,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.StartingBalance, _ = decimal.NewFromString(startS)
	p.CashBalance, _ = decimal.NewFromString(cashS)
	p.TotalValue, _ = decimal.NewFromString(totalS)
	p.RealizedPL, _ = decimal.NewFromString(realizedS)
	p.TotalPLPct, _ = decimal.NewFromString(plPctS)
	return &p, nil
}

func scanPosition(row scannable) (*model.Position, error) {
	var pos model.Position
	var avgS, curS, uplS, uplPctS string

	if err := row.Scan(&pos.TraderID, &pos.Symbol, &pos.Quantity,
		&avgS, &curS, &uplS, &uplPctS,
		&pos.OpenedAt, &pos.UpdatedAt); err != nil {
		return nil, err
	}

	pos.AvgPrice, _ = decimal.NewFromString(avgS)
	pos.CurrentPrice, _ = decimal.NewFromString(curS)
	pos.UnrealizedPL, _ = decimal.NewFromString(uplS)
	pos.UnrealizedPLPct, _ = decimal.NewFromString(uplPctS)
	return &pos, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, status string
		var priceS, feeS, totalS, realizedS string

		if err := rows.Scan(&t.ID, &t.TraderID, &t.Symbol, &side, &t.Quantity,
			&priceS, &feeS, &totalS, &realizedS, &status, &t.ExecutedAt); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		t.Status = model.TradeStatus(status)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Fee, _ = decimal.NewFromString(feeS)
		t.Total, _ = decimal.NewFromString(totalS)
		t.RealizedPL, _ = decimal.NewFromString(realizedS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
