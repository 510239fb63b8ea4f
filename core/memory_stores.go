package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTokenStore is an in-process TokenStore for tests and single-node
// development setups.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]OAuthToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: map[string]OAuthToken{}}
}

func (s *MemoryTokenStore) Get(_ context.Context, userID string, brokerKey string) (OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenKey(userID, brokerKey)]
	if !ok {
		return OAuthToken{}, ErrTokenNotFound
	}
	return cloneOAuthToken(token), nil
}

func (s *MemoryTokenStore) Save(_ context.Context, token OAuthToken) (OAuthToken, error) {
	if strings.TrimSpace(token.UserID) == "" || strings.TrimSpace(token.BrokerKey) == "" {
		return OAuthToken{}, fmt.Errorf("core: token user id and broker key are required")
	}
	token.BrokerKey = normalizeBrokerKey(token.BrokerKey)
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.tokens[tokenKey(token.UserID, token.BrokerKey)] = cloneOAuthToken(token)
	s.mu.Unlock()
	return cloneOAuthToken(token), nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, userID string, brokerKey string) error {
	s.mu.Lock()
	delete(s.tokens, tokenKey(userID, brokerKey))
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) ListExpiring(_ context.Context, before time.Time) ([]OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OAuthToken, 0)
	for _, token := range s.tokens {
		if token.IsValid && token.ExpiresAt != nil && token.ExpiresAt.Before(before) {
			out = append(out, cloneOAuthToken(token))
		}
	}
	sortTokens(out)
	return out, nil
}

func (s *MemoryTokenStore) List(context.Context) ([]OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OAuthToken, 0, len(s.tokens))
	for _, token := range s.tokens {
		out = append(out, cloneOAuthToken(token))
	}
	sortTokens(out)
	return out, nil
}

type MemoryCredentialConnectionStore struct {
	mu    sync.Mutex
	byID  map[string]CredentialConnection
	byKey map[string]string
}

func NewMemoryCredentialConnectionStore() *MemoryCredentialConnectionStore {
	return &MemoryCredentialConnectionStore{
		byID:  map[string]CredentialConnection{},
		byKey: map[string]string{},
	}
}

func (s *MemoryCredentialConnectionStore) Save(_ context.Context, conn CredentialConnection) (CredentialConnection, error) {
	if strings.TrimSpace(conn.UserID) == "" || strings.TrimSpace(conn.BrokerKey) == "" {
		return CredentialConnection{}, fmt.Errorf("core: connection user id and broker key are required")
	}
	conn.BrokerKey = normalizeBrokerKey(conn.BrokerKey)
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey(conn.UserID, conn.BrokerKey)
	if existingID, ok := s.byKey[key]; ok && conn.ID == "" {
		conn.ID = existingID
		conn.CreatedAt = s.byID[existingID].CreatedAt
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.Status == "" {
		conn.Status = ConnectionStatusPendingVerification
	}
	conn.UpdatedAt = now
	s.byID[conn.ID] = conn
	s.byKey[key] = conn.ID
	return conn, nil
}

func (s *MemoryCredentialConnectionStore) Get(_ context.Context, userID string, brokerKey string) (CredentialConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[tokenKey(userID, brokerKey)]
	if !ok {
		return CredentialConnection{}, ErrConnectionNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryCredentialConnectionStore) UpdateStatus(_ context.Context, id string, status ConnectionStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.Status = status
	conn.LastError = lastError
	conn.UpdatedAt = time.Now().UTC()
	s.byID[id] = conn
	return nil
}

func (s *MemoryCredentialConnectionStore) RecordUsage(_ context.Context, id string, failed bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.RequestCount++
	if failed {
		conn.ErrorCount++
	}
	usedAt := at
	conn.LastUsedAt = &usedAt
	s.byID[id] = conn
	return nil
}

func (s *MemoryCredentialConnectionStore) UpdateSecrets(_ context.Context, id string, apiKey EncryptedValue, apiSecret EncryptedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.APIKey = apiKey
	conn.APISecret = apiSecret
	conn.UpdatedAt = time.Now().UTC()
	s.byID[id] = conn
	return nil
}

func (s *MemoryCredentialConnectionStore) List(_ context.Context) ([]CredentialConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CredentialConnection, 0, len(s.byID))
	for _, conn := range s.byID {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool {
		return tokenKey(out[i].UserID, out[i].BrokerKey) < tokenKey(out[j].UserID, out[j].BrokerKey)
	})
	return out, nil
}

func tokenKey(userID string, brokerKey string) string {
	return strings.TrimSpace(userID) + "|" + normalizeBrokerKey(brokerKey)
}

func cloneOAuthToken(token OAuthToken) OAuthToken {
	cloned := token
	cloned.Scopes = append([]string(nil), token.Scopes...)
	if token.RefreshToken != nil {
		refresh := *token.RefreshToken
		cloned.RefreshToken = &refresh
	}
	if token.ExpiresAt != nil {
		expiresAt := *token.ExpiresAt
		cloned.ExpiresAt = &expiresAt
	}
	if token.LastRefreshAttempt != nil {
		attempt := *token.LastRefreshAttempt
		cloned.LastRefreshAttempt = &attempt
	}
	return cloned
}

func sortTokens(tokens []OAuthToken) {
	sort.Slice(tokens, func(i, j int) bool {
		return tokenKey(tokens[i].UserID, tokens[i].BrokerKey) < tokenKey(tokens[j].UserID, tokens[j].BrokerKey)
	})
}

var (
	_ TokenStore                = (*MemoryTokenStore)(nil)
	_ CredentialConnectionStore = (*MemoryCredentialConnectionStore)(nil)
)
