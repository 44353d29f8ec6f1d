package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LockStore is the schedule_locks compare-and-set table.
type LockStore struct {
	pool *pgxpool.Pool
}

func NewLockStore(pool *pgxpool.Pool) *LockStore {
	return &LockStore{pool: pool}
}

// TryAcquire inserts the lock row, or takes it over once the previous
// holder's expiry has passed. The conflict update is a single statement,
// so two callers can never both see success.
func (s *LockStore) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	var got string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedule_locks (name, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
			SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
			WHERE schedule_locks.expires_at < NOW()
		RETURNING owner
	`, name, owner, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == owner, nil
}

func (s *LockStore) Release(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM schedule_locks WHERE name = $1 AND owner = $2", name, owner)
	return err
}
