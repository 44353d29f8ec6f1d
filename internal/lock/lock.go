// Package lock provides the cross-process guard that keeps import runs from
// overlapping. A holder that dies without releasing is expired after its TTL.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrHeld = errors.New("lock is held by another run")

// Store is a compare-and-set lock table. TryAcquire succeeds when the name
// is free or its current holder's TTL has elapsed.
type Store interface {
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

type ScheduleLock struct {
	store  Store
	name   string
	ttl    time.Duration
	logger *slog.Logger
}

func New(store Store, name string, ttl time.Duration, logger *slog.Logger) *ScheduleLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleLock{store: store, name: name, ttl: ttl, logger: logger}
}

// Acquire takes the lock and returns a release func that is safe to defer.
// Release uses its own short context so a cancelled run still frees the lock.
func (l *ScheduleLock) Acquire(ctx context.Context) (func(), error) {
	owner := uuid.NewString()
	ok, err := l.store.TryAcquire(ctx, l.name, owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	l.logger.Debug("lock acquired", "lock", l.name, "owner", owner, "ttl", l.ttl)
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.store.Release(rctx, l.name, owner); err != nil {
			l.logger.Error("lock release failed", "lock", l.name, "owner", owner, "error", err)
			return
		}
		l.logger.Debug("lock released", "lock", l.name, "owner", owner)
	}, nil
}
