package domain

import (
	"context"
	"time"
)

// RateLimiter blocks until one more marketplace call may be issued.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Lease is a held distributed lock.
type Lease interface {
	// Extend pushes the expiry out by ttl. It returns ErrLockHeld when the
	// lease was lost to another holder.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// EventPublisher fans ledger changes out to external subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
