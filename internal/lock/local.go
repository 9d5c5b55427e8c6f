package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type localEntry struct {
	token   uint64
	expires time.Time
}

// LocalLocker is an in-process lock table with expiry. It only excludes goroutines of this
// process.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]localEntry
	seq     uint64
	ttl     time.Duration
	now     func() time.Time
}

func NewLocalLocker(ttl time.Duration) *LocalLocker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &LocalLocker{
		entries: make(map[string]localEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok && now.Before(e.expires) {
		return nil, nil
	}

	l.seq++
	token := l.seq
	l.entries[key] = localEntry{token: token, expires: now.Add(l.ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.entries[key]; ok && e.token == token {
			delete(l.entries, key)
		}
		return nil
	}
	refresh := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		e, ok := l.entries[key]
		if !ok || e.token != token {
			return fmt.Errorf("refresh %s: %w", key, ErrNotHeld)
		}
		e.expires = l.now().Add(l.ttl)
		l.entries[key] = e
		return nil
	}

	return newLease(key, l.ttl, release, refresh), nil
}

// Held returns the number of unexpired entries.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for _, e := range l.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}
