// Package postgres implements the trade store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coinrich/coinrich/internal/persistence"
	"github.com/coinrich/coinrich/internal/position"
)

// Schema is the trades table DDL, applied by the operator or a migration
// tool, never by the bot.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            BIGSERIAL PRIMARY KEY,
    instrument    TEXT        NOT NULL,
    strategy_id   TEXT        NOT NULL,
    entry_price   DOUBLE PRECISION NOT NULL,
    exit_price    DOUBLE PRECISION NOT NULL,
    quantity      DOUBLE PRECISION NOT NULL,
    entry_time    TIMESTAMPTZ NOT NULL,
    exit_time     TIMESTAMPTZ NOT NULL,
    return_pct    DOUBLE PRECISION NOT NULL,
    pnl           DOUBLE PRECISION NOT NULL,
    exit_reason   TEXT        NOT NULL,
    entry_regime  TEXT        NOT NULL,
    exit_order_id TEXT        NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (exit_order_id)
);
CREATE INDEX IF NOT EXISTS trades_instrument_exit_time_idx ON trades (instrument, exit_time DESC);
`

// tradesRepo implements persistence.TradeStore for PostgreSQL.
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradeStore creates a PostgreSQL trade store.
func NewTradeStore(db *sqlx.DB, timeout time.Duration) persistence.TradeStore {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &tradesRepo{db: db, timeout: timeout}
}

// Append inserts one completed trade. A duplicate exit order id means the
// trade was already recorded before a crash; that is success, not an error.
func (r *tradesRepo) Append(ctx context.Context, trade position.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (instrument, strategy_id, entry_price, exit_price, quantity,
		                    entry_time, exit_time, return_pct, pnl, exit_reason,
		                    entry_regime, exit_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		trade.Instrument, trade.StrategyID, trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.EntryTime, trade.ExitTime, trade.ReturnPct,
		trade.PnL, trade.ExitReason, trade.EntryRegime, trade.ExitOrderID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// List returns trades for an instrument in a time range, newest first.
func (r *tradesRepo) List(ctx context.Context, instrument string, from, to time.Time, limit int) ([]position.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT instrument, strategy_id, entry_price, exit_price, quantity,
		       entry_time, exit_time, return_pct, pnl, exit_reason,
		       entry_regime, exit_order_id
		FROM trades
		WHERE instrument = $1 AND exit_time >= $2 AND exit_time <= $3
		ORDER BY exit_time DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, instrument, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []position.TradeRecord
	for rows.Next() {
		var t position.TradeRecord
		if err := rows.Scan(
			&t.Instrument, &t.StrategyID, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.EntryTime, &t.ExitTime, &t.ReturnPct, &t.PnL, &t.ExitReason,
			&t.EntryRegime, &t.ExitOrderID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}
