package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement, e.g. *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id        TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL,
		strategy_id     TEXT NOT NULL,
		account_id      TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		exchange        TEXT NOT NULL,
		direction       TEXT NOT NULL,
		offset_flag     TEXT NOT NULL,
		order_type      TEXT NOT NULL,
		price           NUMERIC NOT NULL,
		quantity        BIGINT NOT NULL,
		filled_qty      BIGINT NOT NULL,
		avg_fill_price  NUMERIC NOT NULL,
		status          TEXT NOT NULL,
		reason          TEXT NOT NULL,
		trace_id        TEXT NOT NULL,
		commission      NUMERIC NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_trace_id_idx ON orders (trace_id)`,
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id    TEXT PRIMARY KEY,
		order_id    TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		account_id  TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		direction   TEXT NOT NULL,
		offset_flag TEXT NOT NULL,
		price       NUMERIC NOT NULL,
		quantity    BIGINT NOT NULL,
		commission  NUMERIC NOT NULL,
		trace_id    TEXT NOT NULL,
		trade_time  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trades_order_id_idx ON trades (order_id)`,
}

// EnsureSchema creates the journal tables when missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}
