package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResponseCache stores registry responses so they are shared between
// processes and survive restarts.
type ResponseCache struct {
	pool *pgxpool.Pool
}

func NewResponseCache(pool *pgxpool.Pool) *ResponseCache {
	return &ResponseCache{pool: pool}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.pool.QueryRow(ctx, "SELECT value FROM response_cache WHERE key = $1 AND expires_at > NOW()", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO response_cache (key, value, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, ttl.Milliseconds())
	return err
}

func (c *ResponseCache) Clear(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, "DELETE FROM response_cache")
	return err
}
