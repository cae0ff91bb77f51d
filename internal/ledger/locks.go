package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Locks is the per-asset in-flight marker table. A key is held by at most one
// caller; later callers queue and are handed the key in arrival order, so
// unrelated assets never block each other and one asset's mutations apply in
// admission order.
type Locks struct {
	mu      sync.Mutex
	held    map[string]*lockSlot
	timeout time.Duration
}

type lockSlot struct {
	waiters []chan struct{}
}

// NewLocks creates a lock table. A positive timeout bounds how long Acquire
// waits for a busy key.
func NewLocks(timeout time.Duration) *Locks {
	return &Locks{
		held:    make(map[string]*lockSlot),
		timeout: timeout,
	}
}

// Acquire sets the in-flight marker for key, waiting while another caller
// holds it. The returned release func is safe to call more than once.
// It returns domain.ErrLockTimeout when the wait exceeds the table timeout.
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, busy := l.held[key]
	if !busy {
		l.held[key] = &lockSlot{}
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	granted := make(chan struct{})
	slot.waiters = append(slot.waiters, granted)
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-granted:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.abandon(key, granted)
		return nil, fmt.Errorf("ledger: lock %s: %w", key, ctx.Err())
	case <-timeout:
		l.abandon(key, granted)
		return nil, fmt.Errorf("ledger: lock %s after %s: %w", key, l.timeout, domain.ErrLockTimeout)
	}
}

// Held reports whether key is currently in flight.
func (l *Locks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

func (l *Locks) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

// release hands key to the next waiter or frees it.
func (l *Locks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.held[key]
	if !ok {
		return
	}
	if len(slot.waiters) == 0 {
		delete(l.held, key)
		return
	}
	next := slot.waiters[0]
	slot.waiters = slot.waiters[1:]
	close(next)
}

// abandon withdraws a waiter. If the key was handed over in the meantime the
// waiter owns it and passes it straight on.
func (l *Locks) abandon(key string, granted chan struct{}) {
	l.mu.Lock()
	if slot, ok := l.held[key]; ok {
		for i, w := range slot.waiters {
			if w == granted {
				slot.waiters = append(slot.waiters[:i], slot.waiters[i+1:]...)
				l.mu.Unlock()
				return
			}
		}
	}
	l.mu.Unlock()
	l.release(key)
}
