package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// authorizationStateBytes yields a 512-bit state nonce.
	authorizationStateBytes = 64
	defaultStateMaxAge      = 5 * time.Minute
	// Records outlive the validity window so an expired state is reported as
	// expired rather than missing.
	defaultStateRetention = 15 * time.Minute
)

// MemoryAuthorizationStateStore keeps pending authorizations per session in
// process memory. Use one instance per service; multi-instance deployments
// should use the SQL store.
type MemoryAuthorizationStateStore struct {
	mu        sync.Mutex
	retention time.Duration
	nowFn     func() time.Time
	entries   map[string]AuthorizationState
}

func NewMemoryAuthorizationStateStore(retention time.Duration) *MemoryAuthorizationStateStore {
	if retention <= 0 {
		retention = defaultStateRetention
	}
	return &MemoryAuthorizationStateStore{
		retention: retention,
		nowFn:     func() time.Time { return time.Now().UTC() },
		entries:   map[string]AuthorizationState{},
	}
}

func (s *MemoryAuthorizationStateStore) Save(_ context.Context, state AuthorizationState) error {
	if s == nil {
		return fmt.Errorf("core: authorization state store is not configured")
	}
	sessionID := strings.TrimSpace(state.SessionID)
	if sessionID == "" {
		return fmt.Errorf("core: session id is required")
	}
	if strings.TrimSpace(state.State) == "" {
		return fmt.Errorf("core: authorization state is required")
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.nowFn()
	}

	s.mu.Lock()
	s.evictLocked()
	s.entries[sessionID] = cloneAuthorizationState(state)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuthorizationStateStore) Take(_ context.Context, sessionID string) (AuthorizationState, bool, error) {
	if s == nil {
		return AuthorizationState{}, false, fmt.Errorf("core: authorization state store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return AuthorizationState{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	record, ok := s.entries[sessionID]
	if ok {
		delete(s.entries, sessionID)
	}
	return cloneAuthorizationState(record), ok, nil
}

func (s *MemoryAuthorizationStateStore) evictLocked() {
	cutoff := s.nowFn().Add(-s.retention)
	for key, record := range s.entries {
		if record.CreatedAt.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

func generateAuthorizationState() (string, error) {
	raw := make([]byte, authorizationStateBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func cloneAuthorizationState(state AuthorizationState) AuthorizationState {
	cloned := state
	cloned.Scopes = append([]string(nil), state.Scopes...)
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ AuthorizationStateStore = (*MemoryAuthorizationStateStore)(nil)
