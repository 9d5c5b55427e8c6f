package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomsched/internal/metrics"
)

// Policy decides what happens when the remote lock store is unreachable.
type Policy string

const (
	PolicyFailClosed    Policy = "fail_closed"
	PolicyFallbackLocal Policy = "fallback_local"
)

const bookingKeyPrefix = "booking_lock:"

// BookingKey is the lock key guarding conversion of one booking.
func BookingKey(bookingID string) string {
	return bookingKeyPrefix + bookingID
}

// BookingLocker combines the in-process fast path with the remote store, which is the source
// of truth across processes.
type BookingLocker struct {
	local   *LocalLocker
	remote  Locker
	policy  Policy
	recheck time.Duration
	logger  *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.RWMutex
	lastCheck time.Time
}

// NewBookingLocker wires the composite locker. remote may be nil, in which case only
// in-process exclusion is available and the policy decides whether that is acceptable.
func NewBookingLocker(local *LocalLocker, remote Locker, policy Policy, recheck time.Duration, logger *zerolog.Logger) *BookingLocker {
	if policy == "" {
		policy = PolicyFailClosed
	}
	if recheck <= 0 {
		recheck = 30 * time.Second
	}
	l := logger.With().Str("component", "booking_lock").Logger()
	return &BookingLocker{
		local:   local,
		remote:  remote,
		policy:  policy,
		recheck: recheck,
		logger:  &l,
	}
}

// Acquire takes the conversion lock for a booking. It returns (nil, nil) on contention and
// ErrLockStoreUnavailable when the remote store is down under the fail_closed policy.
func (b *BookingLocker) Acquire(ctx context.Context, bookingID string) (*Lease, error) {
	key := BookingKey(bookingID)

	local, err := b.local.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if local == nil {
		metrics.IncLockAcquire("contended_local")
		return nil, nil
	}

	remote, err := b.acquireRemote(ctx, key)
	if err != nil {
		if b.policy == PolicyFallbackLocal && errors.Is(err, ErrLockStoreUnavailable) {
			metrics.IncLockAcquire("fallback_local")
			b.logger.Warn().Err(err).Str("key", key).Msg("lock store unavailable, proceeding with in-process lock only")
			return local, nil
		}
		_ = local.Release(ctx)
		metrics.IncLockAcquire("unavailable")
		return nil, err
	}
	if remote == nil {
		_ = local.Release(ctx)
		metrics.IncLockAcquire("contended")
		return nil, nil
	}

	metrics.IncLockAcquire("acquired")
	return newLease(key, remote.TTL(),
		func(ctx context.Context) error {
			err := remote.Release(ctx)
			_ = local.Release(ctx)
			return err
		},
		func(ctx context.Context) error {
			if err := remote.Refresh(ctx); err != nil {
				return err
			}
			return local.Refresh(ctx)
		},
	), nil
}

func (b *BookingLocker) acquireRemote(ctx context.Context, key string) (*Lease, error) {
	if b.remote == nil {
		return nil, fmt.Errorf("%w: no remote lock store configured", ErrLockStoreUnavailable)
	}

	if b.isDown.Load() {
		b.mu.RLock()
		wait := time.Since(b.lastCheck) < b.recheck
		b.mu.RUnlock()
		if wait {
			return nil, fmt.Errorf("%w: marked down", ErrLockStoreUnavailable)
		}
	}

	lease, err := b.remote.TryAcquire(ctx, key)
	if err != nil {
		if errors.Is(err, ErrLockStoreUnavailable) {
			b.markDown(err)
		}
		return nil, err
	}

	if b.isDown.CompareAndSwap(true, false) {
		b.logger.Info().Msg("lock store recovered")
	}
	return lease, nil
}

func (b *BookingLocker) markDown(err error) {
	b.mu.Lock()
	b.lastCheck = time.Now()
	b.mu.Unlock()
	if !b.isDown.Swap(true) {
		b.logger.Error().Err(err).Msg("lock store marked down")
	}
}

// Healthy reports whether the remote store was reachable on the last attempt.
func (b *BookingLocker) Healthy() bool {
	return b.remote != nil && !b.isDown.Load()
}
