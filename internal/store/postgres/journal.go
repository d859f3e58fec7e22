// Package postgres implements the optional closed-trade journal on
// PostgreSQL via pgx. The journal is an audit/export sidecar: the portfolio
// document remains the source of truth, and a journal failure never aborts
// a polling cycle.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"papertrader/internal/domain"
)

// schema creates the journal table on first use. Kept inline: one table, no
// migration tooling needed.
const schema = `
CREATE TABLE IF NOT EXISTS trade_journal (
    id          BIGSERIAL PRIMARY KEY,
    address     TEXT        NOT NULL,
    chain       TEXT        NOT NULL,
    symbol      TEXT        NOT NULL,
    entry_price DOUBLE PRECISION NOT NULL,
    exit_price  DOUBLE PRECISION NOT NULL,
    size        DOUBLE PRECISION NOT NULL,
    pnl         DOUBLE PRECISION NOT NULL,
    reason      TEXT        NOT NULL,
    opened_at   TIMESTAMPTZ NOT NULL,
    closed_at   TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Journal implements domain.TradeJournal on a pgx connection pool.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal connects to the given DSN, ensures the journal table exists,
// and returns the Journal.
func NewJournal(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure journal table: %w", err)
	}
	return &Journal{pool: pool}, nil
}

// Record appends one closed trade to the journal.
func (j *Journal) Record(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
INSERT INTO trade_journal
    (address, chain, symbol, entry_price, exit_price, size, pnl, reason, opened_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := j.pool.Exec(ctx, query,
		rec.Address, rec.Chain, rec.Symbol,
		rec.EntryPrice, rec.ExitPrice, rec.Size, rec.Pnl,
		string(rec.Reason), rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", rec.Address, err)
	}
	return nil
}

// Close releases the connection pool.
func (j *Journal) Close() {
	j.pool.Close()
}

var _ domain.TradeJournal = (*Journal)(nil)
