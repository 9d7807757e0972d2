// Package storage persists finished backtest reports to Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/model"
)

var ErrNotFound = errors.New("backtest run not found")

// RunSummary is one row of backtest_runs.
type RunSummary struct {
	RunID     uuid.UUID        `json:"run_id"`
	TestID    int              `json:"test_id"`
	Label     string           `json:"label"`
	Aborted   bool             `json:"aborted"`
	Warnings  int              `json:"warnings"`
	CreatedAt time.Time        `json:"created_at"`
	Result    model.TestResult `json:"result"`
}

type ResultStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewResultStore(ctx context.Context, dsn string, log *zap.Logger) (*ResultStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &ResultStore{pool: pool, log: log}, nil
}

func (s *ResultStore) Close() {
	s.pool.Close()
}

func (s *ResultStore) Init(ctx context.Context) error {
	runs := `CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id UUID PRIMARY KEY,
		test_id INT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		aborted BOOLEAN NOT NULL,
		warnings INT NOT NULL,
		total_trades INT NOT NULL,
		total_longs INT NOT NULL,
		total_shorts INT NOT NULL,
		final_balance FLOAT NOT NULL,
		max_dd_depth FLOAT NOT NULL,
		max_dd_length BIGINT NOT NULL,
		cagr FLOAT NOT NULL,
		profit_factor FLOAT NOT NULL,
		r2 FLOAT NOT NULL,
		regression_std FLOAT NOT NULL,
		sharpe FLOAT NOT NULL,
		ulcer_index FLOAT NOT NULL,
		martin FLOAT NOT NULL,
		avg_trade_duration FLOAT NOT NULL,
		win_rate FLOAT NOT NULL,
		risk_reward FLOAT NOT NULL,
		avg_win FLOAT NOT NULL,
		avg_loss FLOAT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	trades := `CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id UUID REFERENCES backtest_runs(run_id) ON DELETE CASCADE,
		idx INT NOT NULL,
		instance_id INT NOT NULL,
		symbol TEXT NOT NULL,
		ticket INT NOT NULL,
		order_type TEXT NOT NULL,
		open_time BIGINT NOT NULL,
		close_time BIGINT NOT NULL,
		open_price FLOAT NOT NULL,
		close_price FLOAT NOT NULL,
		lots FLOAT NOT NULL,
		profit FLOAT NOT NULL,
		swap FLOAT NOT NULL,
		balance FLOAT NOT NULL,
		PRIMARY KEY (run_id, idx)
	);`

	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, trades); err != nil {
		return err
	}
	return nil
}

// SaveReport writes the summary and the ledger of rep in one transaction.
func (s *ResultStore) SaveReport(ctx context.Context, runID uuid.UUID, label string, rep *backtest.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r := rep.Result
	_, err = tx.Exec(ctx, `INSERT INTO backtest_runs (
		run_id, test_id, label, aborted, warnings, total_trades, total_longs, total_shorts,
		final_balance, max_dd_depth, max_dd_length, cagr, profit_factor, r2, regression_std,
		sharpe, ulcer_index, martin, avg_trade_duration, win_rate, risk_reward, avg_win, avg_loss
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		runID, rep.TestID, label, rep.Aborted, rep.Warnings, r.TotalTrades, r.TotalLongs, r.TotalShorts,
		r.FinalBalance, r.MaxDDDepth, r.MaxDDLength, r.CAGR, r.ProfitFactor, r.R2, r.RegressionStd,
		r.Sharpe, r.UlcerIndex, r.Martin, r.AvgTradeDuration, r.WinRate, r.RiskReward, r.AvgWin, r.AvgLoss,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	rows := make([][]any, 0, len(rep.Ledger))
	for _, l := range rep.Ledger {
		rows = append(rows, []any{
			runID, l.Index, l.InstanceID, l.Symbol, l.Ticket, l.Type.String(),
			l.OpenTime, l.CloseTime, l.OpenPrice, l.ClosePrice, l.Lots, l.Profit, l.Swap, l.Balance,
		})
	}
	if len(rows) > 0 {
		cols := []string{"run_id", "idx", "instance_id", "symbol", "ticket", "order_type",
			"open_time", "close_time", "open_price", "close_price", "lots", "profit", "swap", "balance"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backtest_trades"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy trades: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("backtest stored", zap.String("run_id", runID.String()), zap.Int("trades", len(rows)))
	return nil
}

func (s *ResultStore) LoadSummary(ctx context.Context, runID uuid.UUID) (*RunSummary, error) {
	var sum RunSummary
	r := &sum.Result
	err := s.pool.QueryRow(ctx, `SELECT
		run_id, test_id, label, aborted, warnings, created_at, total_trades, total_longs, total_shorts,
		final_balance, max_dd_depth, max_dd_length, cagr, profit_factor, r2, regression_std,
		sharpe, ulcer_index, martin, avg_trade_duration, win_rate, risk_reward, avg_win, avg_loss
		FROM backtest_runs WHERE run_id = $1`, runID,
	).Scan(
		&sum.RunID, &sum.TestID, &sum.Label, &sum.Aborted, &sum.Warnings, &sum.CreatedAt,
		&r.TotalTrades, &r.TotalLongs, &r.TotalShorts,
		&r.FinalBalance, &r.MaxDDDepth, &r.MaxDDLength, &r.CAGR, &r.ProfitFactor, &r.R2, &r.RegressionStd,
		&r.Sharpe, &r.UlcerIndex, &r.Martin, &r.AvgTradeDuration, &r.WinRate, &r.RiskReward, &r.AvgWin, &r.AvgLoss,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// LoadLedger returns the stored ledger rows of a run in ledger order.
func (s *ResultStore) LoadLedger(ctx context.Context, runID uuid.UUID) ([]backtest.LedgerRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT idx, instance_id, symbol, ticket, order_type,
		open_time, close_time, open_price, close_price, lots, profit, swap, balance
		FROM backtest_trades WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backtest.LedgerRow
	var cum float64
	for rows.Next() {
		var l backtest.LedgerRow
		var typ string
		if err := rows.Scan(&l.Index, &l.InstanceID, &l.Symbol, &l.Ticket, &typ,
			&l.OpenTime, &l.CloseTime, &l.OpenPrice, &l.ClosePrice, &l.Lots, &l.Profit, &l.Swap, &l.Balance); err != nil {
			return nil, err
		}
		if l.Type, err = model.ParseOrderType(typ); err != nil {
			return nil, err
		}
		cum += l.Profit + l.Swap
		l.CumProfit = cum
		out = append(out, l)
	}
	return out, rows.Err()
}
