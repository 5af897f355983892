package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter with a resetting window: the counter
// restarts once the window has fully elapsed since the first flag in it.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFlags int
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxFlags int) *PG {
	return &PG{pool: pool, window: window, maxFlags: maxFlags}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxFlags int) *PG {
	return &PG{pool: q, window: window, maxFlags: maxFlags}
}

// Allow counts one flag attempt for the hash. Attempts past the budget are
// still counted but denied, with retry-after pointing at the window's end.
func (l *PG) Allow(ctx context.Context, flaggerHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO flag_limiter (flagger_hash, flag_count, window_start)
VALUES ($1, 1, now())
ON CONFLICT (flagger_hash) DO UPDATE
SET
  flag_count   = CASE WHEN now() - flag_limiter.window_start > $2::interval THEN 1 ELSE flag_limiter.flag_count + 1 END,
  window_start = CASE WHEN now() - flag_limiter.window_start > $2::interval THEN now() ELSE flag_limiter.window_start END
RETURNING flag_count, window_start`
	var count int
	var windowStart time.Time
	if err := l.pool.QueryRow(ctx, q, flaggerHash, l.window).Scan(&count, &windowStart); err != nil {
		return false, 0, err
	}
	if count > l.maxFlags {
		return false, time.Until(windowStart.Add(l.window)), nil
	}
	return true, 0, nil
}
