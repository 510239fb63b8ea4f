package core

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type testKeyRing struct {
	active int
	keys   map[int][]byte
}

func newTestKeyRing() *testKeyRing {
	return &testKeyRing{active: 1, keys: map[int][]byte{1: bytes.Repeat([]byte{1}, 32)}}
}

func (r *testKeyRing) ActiveKey() (int, []byte, error) {
	return r.active, r.keys[r.active], nil
}

func (r *testKeyRing) Key(version int) ([]byte, error) {
	key, ok := r.keys[version]
	if !ok {
		return nil, fmt.Errorf("test keyring: unknown version %d", version)
	}
	return key, nil
}

// testVault tags ciphertexts with the key so a wrong key is detected.
type testVault struct{}

func (testVault) Encrypt(plaintext []byte, key []byte) (EncryptedValue, error) {
	return EncryptedValue{
		Ciphertext: append([]byte("enc:"), plaintext...),
		IV:         []byte("iv-000000000"),
		AuthTag:    append([]byte(nil), key...),
	}, nil
}

func (testVault) Decrypt(value EncryptedValue, key []byte) ([]byte, error) {
	if !bytes.Equal(value.AuthTag, key) || !bytes.HasPrefix(value.Ciphertext, []byte("enc:")) {
		return nil, NewIntegrityError()
	}
	return bytes.TrimPrefix(value.Ciphertext, []byte("enc:")), nil
}

type stubOAuthProvider struct {
	id      string
	rotates bool

	mu            sync.Mutex
	exchangeCalls int
	exchangeErr   error
	exchangeSet   TokenSet
	refreshCalls  int
	refreshErrs   []error
	refreshSet    TokenSet
	refreshTokens []string
	release       chan struct{}
}

func newStubOAuthProvider(id string) *stubOAuthProvider {
	expiresAt := time.Now().UTC().Add(time.Hour)
	return &stubOAuthProvider{
		id: id,
		exchangeSet: TokenSet{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			ExpiresAt:    &expiresAt,
			Scopes:       []string{"trading"},
		},
		refreshSet: TokenSet{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			TokenType:    "bearer",
			ExpiresAt:    &expiresAt,
		},
	}
}

func (p *stubOAuthProvider) ID() string { return p.id }

func (p *stubOAuthProvider) RotatesRefreshToken() bool { return p.rotates }

func (p *stubOAuthProvider) AuthorizationURL(req AuthorizationURLRequest) (string, error) {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", "client-"+p.id)
	query.Set("redirect_uri", req.RedirectURI)
	query.Set("state", req.State)
	if len(req.Scopes) > 0 {
		query.Set("scope", strings.Join(req.Scopes, " "))
	}
	return "https://auth." + p.id + ".example/oauth/authorize?" + query.Encode(), nil
}

func (p *stubOAuthProvider) Exchange(context.Context, ExchangeRequest) (TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	if p.exchangeErr != nil {
		return TokenSet{}, p.exchangeErr
	}
	return p.exchangeSet, nil
}

func (p *stubOAuthProvider) Refresh(_ context.Context, refreshToken string) (TokenSet, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	p.refreshTokens = append(p.refreshTokens, refreshToken)
	if len(p.refreshErrs) > 0 {
		err := p.refreshErrs[0]
		p.refreshErrs = p.refreshErrs[1:]
		if err != nil {
			return TokenSet{}, err
		}
	}
	return p.refreshSet, nil
}

func (p *stubOAuthProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

type recordingAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingAuditSink) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingAuditSink) byRisk(risk AuditRisk) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []AuditEvent{}
	for _, event := range s.events {
		if event.Risk == risk {
			out = append(out, event)
		}
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, delay time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, delay)
	r.mu.Unlock()
	return nil
}

type stubAdapter struct {
	key           string
	identity      Identity
	env           Environment
	deps          AdapterDependencies
	authenticated bool
	authErr       error
}

func (a *stubAdapter) BrokerKey() string     { return a.key }
func (a *stubAdapter) IsAuthenticated() bool { return a.authenticated }
func (a *stubAdapter) AccountID() string     { return "acct-" + a.identity.UserID }

func (a *stubAdapter) Authenticate(ctx context.Context) error {
	if a.authErr != nil {
		return a.authErr
	}
	if a.deps.Credentials != nil {
		if _, err := a.deps.Credentials.APICredentials(ctx, a.key, a.identity.UserID); err != nil {
			return err
		}
	}
	a.authenticated = true
	return nil
}

func (a *stubAdapter) GetBalance(context.Context, string) (NormalizedBalance, error) {
	return NormalizedBalance{}, nil
}

func (a *stubAdapter) GetPositions(context.Context) ([]NormalizedPosition, error) { return nil, nil }

func (a *stubAdapter) CreateOrder(context.Context, OrderSpec) (NormalizedOrder, error) {
	return NormalizedOrder{}, nil
}

func (a *stubAdapter) CancelOrder(context.Context, string) (bool, error) { return true, nil }

func (a *stubAdapter) SetStopLoss(context.Context, ProtectiveOrderSpec) (NormalizedOrder, error) {
	return NormalizedOrder{}, nil
}

func (a *stubAdapter) SetTakeProfit(context.Context, ProtectiveOrderSpec) (NormalizedOrder, error) {
	return NormalizedOrder{}, nil
}

func (a *stubAdapter) GetOrderHistory(context.Context, OrderHistoryFilter) ([]NormalizedOrder, error) {
	return nil, nil
}

func (a *stubAdapter) GetMarketPrice(context.Context, string) (MarketPrice, error) {
	return MarketPrice{}, nil
}

func (a *stubAdapter) IsSymbolSupported(context.Context, string) (bool, error) { return true, nil }

func (a *stubAdapter) GetFees(context.Context, string) (FeeSchedule, error) {
	return FeeSchedule{}, nil
}

type stubTransport struct{}

func (stubTransport) Kind() string { return "stub" }

func (stubTransport) Do(context.Context, TransportRequest) (TransportResponse, error) {
	return TransportResponse{StatusCode: 200}, nil
}

func stubAdapterFactory(key string) AdapterFactory {
	return func(identity Identity, env Environment, deps AdapterDependencies) (BrokerAdapter, error) {
		return &stubAdapter{key: key, identity: identity, env: env, deps: deps}, nil
	}
}

type testHarness struct {
	svc      *Service
	provider *stubOAuthProvider
	audit    *recordingAuditSink
	tokens   *MemoryTokenStore
	clock    *testClock
	sleeps   *sleepRecorder
	keyRing  *testKeyRing
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	provider := newStubOAuthProvider("alpaca")
	registry := NewBrokerRegistry()
	if err := registry.Register(BrokerDescriptor{
		ID:       "alpaca",
		AuthKind: AuthKindOAuth2,
		OAuth:    provider,
		Factory:  stubAdapterFactory("alpaca"),
	}); err != nil {
		t.Fatalf("register broker: %v", err)
	}
	if err := registry.Register(BrokerDescriptor{
		ID:       "binance",
		AuthKind: AuthKindAPIKey,
		Factory:  stubAdapterFactory("binance"),
	}); err != nil {
		t.Fatalf("register broker: %v", err)
	}

	h := &testHarness{
		provider: provider,
		audit:    &recordingAuditSink{},
		tokens:   NewMemoryTokenStore(),
		clock:    newTestClock(),
		sleeps:   &sleepRecorder{},
		keyRing:  newTestKeyRing(),
	}
	base := []Option{
		WithBrokerRegistry(registry),
		WithTokenStore(h.tokens),
		WithCredentialConnectionStore(NewMemoryCredentialConnectionStore()),
		WithTokenVault(testVault{}),
		WithKeyRing(h.keyRing),
		WithAuditSink(h.audit),
		WithTransport(stubTransport{}),
		WithClock(h.clock.Now),
		WithSleeper(h.sleeps.Sleep),
	}
	cfg := DefaultConfig()
	cfg.OAuth.RedirectURI = "https://app.example/oauth/callback"
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

// seedToken stores a connected token for u1 as the callback would.
func (h *testHarness) seedToken(t *testing.T, userID string, expiresIn time.Duration, withRefresh bool) OAuthToken {
	t.Helper()
	access, err := h.svc.sealSecret("access-0")
	if err != nil {
		t.Fatalf("seal access: %v", err)
	}
	token := OAuthToken{
		UserID:      userID,
		BrokerKey:   "alpaca",
		AccessToken: access,
		TokenType:   "bearer",
		IsValid:     true,
		ConnectedAt: h.clock.Now(),
	}
	if withRefresh {
		refresh, sealErr := h.svc.sealSecret("refresh-0")
		if sealErr != nil {
			t.Fatalf("seal refresh: %v", sealErr)
		}
		token.RefreshToken = &refresh
	}
	expiresAt := h.clock.Now().Add(expiresIn)
	token.ExpiresAt = &expiresAt
	saved, err := h.tokens.Save(context.Background(), token)
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return saved
}
