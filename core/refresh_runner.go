package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshExpiryLeeway   = 2 * time.Minute
	defaultRefreshLockTTL        = 30 * time.Second
	defaultRefreshScheduleWindow = 15 * time.Minute
)

// defaultRefreshBackoff is the delay schedule between transient refresh
// failures. Attempt n waits defaultRefreshBackoff[n-1] before attempt n+1.
var defaultRefreshBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes refreshes of one credential across service
// instances.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// RefreshBackoff returns the delay before the next attempt.
type RefreshBackoff []time.Duration

func (b RefreshBackoff) NextDelay(attempt int) time.Duration {
	schedule := []time.Duration(b)
	if len(schedule) == 0 {
		schedule = defaultRefreshBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt-1]
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for %q", key)
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryConnectionLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

var _ ConnectionLocker = (*MemoryConnectionLocker)(nil)
