// Package lock provides lease-based mutual exclusion keyed by string, backed by Redis with an
// in-process fast path.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrLockStoreUnavailable means the lock store could not be reached; callers must not proceed.
	ErrLockStoreUnavailable = errors.New("lock store unavailable")
	// ErrNotHeld is returned by Refresh when the lease expired or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Locker acquires leases. TryAcquire returns (nil, nil) when the key is held elsewhere.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (*Lease, error)
}

// Lease is a held lock. Release is idempotent.
type Lease struct {
	key     string
	ttl     time.Duration
	release func(ctx context.Context) error
	refresh func(ctx context.Context) error

	once sync.Once
	err  error
}

func newLease(key string, ttl time.Duration, release, refresh func(ctx context.Context) error) *Lease {
	return &Lease{key: key, ttl: ttl, release: release, refresh: refresh}
}

func (l *Lease) Key() string {
	return l.key
}

func (l *Lease) TTL() time.Duration {
	return l.ttl
}

// Release gives the lock back. Only the holder's token is deleted.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

// Refresh extends the lease by its TTL.
func (l *Lease) Refresh(ctx context.Context) error {
	return l.refresh(ctx)
}

// KeepAlive refreshes the lease every ttl/3 until the returned stop func is called or ctx ends.
func KeepAlive(ctx context.Context, lease *Lease, logger *zerolog.Logger) (stop func()) {
	interval := lease.ttl / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn().Err(err).Str("key", lease.key).Msg("lease refresh failed")
					if errors.Is(err, ErrNotHeld) {
						return
					}
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
