package ratecounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS alert_counts (
	id BIGSERIAL PRIMARY KEY,
	account_id TEXT NOT NULL,
	day TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT ux_alert_counts_account_day UNIQUE (account_id, day)
)`

	pgConsumeSQL = `INSERT INTO alert_counts (account_id, day, count, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (account_id, day) DO UPDATE
SET count = alert_counts.count + 1, updated_at = EXCLUDED.updated_at
WHERE alert_counts.count < $4
RETURNING count`

	pgUsageSQL = `SELECT count FROM alert_counts WHERE account_id = $1 AND day = $2`
	pgPurgeSQL = `DELETE FROM alert_counts WHERE day <> $1`
)

// PostgresCounter shares counts between relay instances through PostgreSQL
type PostgresCounter struct {
	pool *pgxpool.Pool
	cal  Calendar
}

var _ Counter = (*PostgresCounter)(nil)

// NewPostgresCounter connects to dsn and ensures the counter table exists
func NewPostgresCounter(ctx context.Context, dsn string, cal Calendar) (*PostgresCounter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create alert_counts table: %w", err)
	}
	return &PostgresCounter{pool: pool, cal: cal}, nil
}

// Close releases the pool
func (c *PostgresCounter) Close() {
	c.pool.Close()
}

// TryConsume takes one unit of today's quota if any is left
func (c *PostgresCounter) TryConsume(ctx context.Context, accountID string, limit int) (Result, error) {
	day := c.cal.Today()
	if limit <= 0 {
		used, err := c.usage(ctx, accountID, day)
		if err != nil {
			return Result{}, err
		}
		return result(false, used, limit), nil
	}

	var used int
	err := c.pool.QueryRow(ctx, pgConsumeSQL, accountID, day, c.cal.Now(), limit).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		used, err = c.usage(ctx, accountID, day)
		if err != nil {
			return Result{}, err
		}
		return result(false, used, limit), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment alert count: %w", err)
	}
	return result(true, used, limit), nil
}

// Usage returns today's count without changing it
func (c *PostgresCounter) Usage(ctx context.Context, accountID string) (int, error) {
	return c.usage(ctx, accountID, c.cal.Today())
}

func (c *PostgresCounter) usage(ctx context.Context, accountID, day string) (int, error) {
	var used int
	err := c.pool.QueryRow(ctx, pgUsageSQL, accountID, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get alert count: %w", err)
	}
	return used, nil
}

// PurgeStale deletes every entry whose day is not today
func (c *PostgresCounter) PurgeStale(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, pgPurgeSQL, c.cal.Today())
	if err != nil {
		return 0, fmt.Errorf("failed to purge alert counts: %w", err)
	}
	return tag.RowsAffected(), nil
}
