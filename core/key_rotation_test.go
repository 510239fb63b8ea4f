package core

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestReencryptTokens_MovesTokensToActiveKey(t *testing.T) {
	h := newTestHarness(t)
	h.seedToken(t, "u1", time.Hour, true)
	h.seedToken(t, "u2", time.Hour, false)

	h.keyRing.keys[2] = bytes.Repeat([]byte{2}, 32)
	h.keyRing.active = 2

	result, err := h.svc.ReencryptTokens(context.Background())
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	if result.Scanned != 2 || result.Rotated != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}

	token, err := h.tokens.Get(context.Background(), "u1", "alpaca")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token.AccessToken.KeyVersion != 2 || token.RefreshToken.KeyVersion != 2 {
		t.Fatalf("expected key version 2, got %d/%d", token.AccessToken.KeyVersion, token.RefreshToken.KeyVersion)
	}

	delete(h.keyRing.keys, 1)
	access, err := h.svc.AccessToken(context.Background(), "alpaca", "u1")
	if err != nil {
		t.Fatalf("access token after rotation: %v", err)
	}
	if access != "access-0" {
		t.Fatalf("expected original plaintext, got %q", access)
	}

	again, err := h.svc.ReencryptTokens(context.Background())
	if err != nil {
		t.Fatalf("reencrypt again: %v", err)
	}
	if again.Rotated != 0 {
		t.Fatalf("expected nothing to rotate, got %d", again.Rotated)
	}

	events := h.audit.byRisk(AuditRiskLow)
	found := false
	for _, event := range events {
		if event.Action == AuditActionKeyRotation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected key rotation audit")
	}
}

func TestReencryptTokens_RotatesAPIKeyConnections(t *testing.T) {
	conns := NewMemoryCredentialConnectionStore()
	h := newTestHarness(t, WithCredentialConnectionStore(conns))
	ctx := context.Background()

	if _, err := h.svc.ConnectAPIKey(ctx, ConnectAPIKeyRequest{
		BrokerKey: "binance",
		UserID:    "u1",
		KeyID:     "key-1",
		Secret:    "secret-1",
	}); err != nil {
		t.Fatalf("connect api key: %v", err)
	}
	before, err := conns.Get(ctx, "u1", "binance")
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if err := conns.RecordUsage(ctx, before.ID, true, h.clock.Now()); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	h.keyRing.keys[2] = bytes.Repeat([]byte{2}, 32)
	h.keyRing.active = 2

	result, err := h.svc.ReencryptTokens(ctx)
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	if result.Scanned != 1 || result.Rotated != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}

	after, err := conns.Get(ctx, "u1", "binance")
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if after.APIKey.KeyVersion != 2 || after.APISecret.KeyVersion != 2 {
		t.Fatalf("expected key version 2, got %d/%d", after.APIKey.KeyVersion, after.APISecret.KeyVersion)
	}
	if after.RequestCount != 1 || after.ErrorCount != 1 || after.Status != ConnectionStatusPendingVerification {
		t.Fatalf("expected counters and status untouched, got %#v", after)
	}

	delete(h.keyRing.keys, 1)
	secret, err := h.svc.openSecret(after.APISecret)
	if err != nil {
		t.Fatalf("open rotated secret: %v", err)
	}
	if secret != "secret-1" {
		t.Fatalf("expected original secret, got %q", secret)
	}
}

func TestReencryptTokens_SkipsCredentialHeldByRefresh(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.seedToken(t, "u1", time.Hour, true)

	h.keyRing.keys[2] = bytes.Repeat([]byte{2}, 32)
	h.keyRing.active = 2

	handle, err := h.svc.connectionLocker.Acquire(ctx, refreshKey("u1", "alpaca"), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	result, err := h.svc.ReencryptTokens(ctx)
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	if result.Skipped != 1 || result.Rotated != 0 || result.Failed != 0 {
		t.Fatalf("expected locked token to be skipped, got %#v", result)
	}
	token, err := h.tokens.Get(ctx, "u1", "alpaca")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token.AccessToken.KeyVersion != 1 {
		t.Fatalf("expected locked token untouched, got version %d", token.AccessToken.KeyVersion)
	}

	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	result, err = h.svc.ReencryptTokens(ctx)
	if err != nil {
		t.Fatalf("reencrypt after unlock: %v", err)
	}
	if result.Rotated != 1 {
		t.Fatalf("expected rotation once the lock is free, got %#v", result)
	}
}

// refreshingTokenStore rewrites the token right after the sweep lists it,
// the way a concurrent refresh would.
type refreshingTokenStore struct {
	*MemoryTokenStore
	rewrite func(OAuthToken) OAuthToken
}

func (s *refreshingTokenStore) List(ctx context.Context) ([]OAuthToken, error) {
	listed, err := s.MemoryTokenStore.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, token := range listed {
		if _, err := s.MemoryTokenStore.Save(ctx, s.rewrite(token)); err != nil {
			return nil, err
		}
	}
	return listed, nil
}

func TestReencryptTokens_DoesNotOverwriteTokenChangedAfterListing(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.seedToken(t, "u1", time.Hour, true)

	h.keyRing.keys[2] = bytes.Repeat([]byte{2}, 32)
	h.keyRing.keys[3] = bytes.Repeat([]byte{3}, 32)
	h.keyRing.active = 2

	// The concurrent writer seals with a key the sweep does not consider
	// active, so only the ciphertext comparison protects it.
	vault := testVault{}
	store := &refreshingTokenStore{
		MemoryTokenStore: h.tokens,
		rewrite: func(token OAuthToken) OAuthToken {
			fresh, _ := vault.Encrypt([]byte("access-1"), h.keyRing.keys[3])
			fresh.KeyVersion = 3
			token.AccessToken = fresh
			return token
		},
	}
	svc, err := NewService(h.svc.Config(),
		WithBrokerRegistry(h.svc.registry),
		WithTokenStore(store),
		WithTokenVault(vault),
		WithKeyRing(h.keyRing),
		WithAuditSink(h.audit),
		WithTransport(stubTransport{}),
		WithClock(h.clock.Now),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.ReencryptTokens(ctx)
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	if result.Skipped != 1 || result.Rotated != 0 {
		t.Fatalf("expected changed token to be skipped, got %#v", result)
	}
	token, err := h.tokens.Get(ctx, "u1", "alpaca")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token.AccessToken.KeyVersion != 3 || string(token.AccessToken.Ciphertext) != "enc:access-1" {
		t.Fatalf("expected the concurrent write to survive, got %#v", token.AccessToken)
	}
}

func TestConnectAPIKey_FailsWhileCredentialLocked(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	handle, err := h.svc.connectionLocker.Acquire(ctx, refreshKey("u1", "binance"), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = handle.Unlock(ctx) }()

	_, err = h.svc.ConnectAPIKey(ctx, ConnectAPIKeyRequest{
		BrokerKey: "binance",
		UserID:    "u1",
		KeyID:     "key-1",
		Secret:    "secret-1",
	})
	if err == nil {
		t.Fatalf("expected connect to fail while the credential is locked")
	}
}
