package batchutil

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LockID maps a name to a stable advisory lock identifier.
func LockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAdvisoryLock tries to acquire a session-level Postgres advisory lock and
// returns an unlock function on success. The lock holds a pooled connection
// until unlock is called.
func TryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, name string) (locked bool, unlock func(context.Context) error, err error) {
	if pool == nil {
		return false, nil, fmt.Errorf("pool is nil")
	}
	lockID := LockID(name)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&locked); err != nil {
		conn.Release()
		return false, nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return false, nil, nil
	}

	return true, func(ctx context.Context) error {
		defer conn.Release()
		var released bool
		if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, lockID).Scan(&released); err != nil {
			return fmt.Errorf("advisory unlock: %w", err)
		}
		if !released {
			return fmt.Errorf("advisory unlock: not held")
		}
		return nil
	}, nil
}

// Locker takes named advisory locks on a pool.
type Locker struct {
	pool *pgxpool.Pool
}

// NewLocker creates a Locker.
func NewLocker(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// TryLock is TryAdvisoryLock bound to the locker's pool.
func (l *Locker) TryLock(ctx context.Context, name string) (bool, func(context.Context) error, error) {
	return TryAdvisoryLock(ctx, l.pool, name)
}
