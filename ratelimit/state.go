package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the last known allowance for one broker bucket, as reported by
// the broker's own quota headers or inferred from a 429.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// MemoryStateStore keeps bucket state in process. Restarting the service
// forgets any cool-down a broker imposed.
type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[bucketID(normalizeKey(key))]
	if !ok {
		return State{}, ErrStateNotFound
	}
	state.Metadata = cloneMap(state.Metadata)
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	state.Metadata = cloneMap(state.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[bucketID(state.Key)] = state
	return nil
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		BrokerKey: strings.TrimSpace(strings.ToLower(key.BrokerKey)),
		ScopeType: strings.TrimSpace(strings.ToLower(key.ScopeType)),
		ScopeID:   strings.TrimSpace(key.ScopeID),
		BucketKey: strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

func bucketID(key core.RateLimitKey) string {
	return strings.Join([]string{key.BrokerKey, key.ScopeType, key.ScopeID, key.BucketKey}, "|")
}

func cloneMap(input map[string]any) map[string]any {
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
