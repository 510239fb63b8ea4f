package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

type tokenServer struct {
	mu       sync.Mutex
	forms    []url.Values
	basic    []string
	status   int
	response string
	ctype    string
}

func (s *tokenServer) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.forms = append(s.forms, r.PostForm)
	user, _, _ := r.BasicAuth()
	s.basic = append(s.basic, user)
	status, response, ctype := s.status, s.response, s.ctype
	s.mu.Unlock()

	if ctype == "" {
		ctype = "application/json"
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(response))
}

func newTokenServer(t *testing.T, status int, response string) (*tokenServer, *httptest.Server) {
	t.Helper()
	state := &tokenServer{status: status, response: response}
	server := httptest.NewServer(http.HandlerFunc(state.handler))
	t.Cleanup(server.Close)
	return state, server
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
}

func TestOAuth2Provider_AuthorizationURL(t *testing.T) {
	provider, err := NewOAuth2Provider(OAuth2Config{
		ID:              "Alpaca",
		AuthURL:         "https://auth.example/oauth/authorize?env=paper",
		TokenURL:        "https://auth.example/oauth/token",
		ClientID:        "client-123",
		DefaultScopes:   []string{"trading", "account:write"},
		ExtraAuthParams: map[string]string{"prompt": "consent"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if provider.ID() != "alpaca" {
		t.Fatalf("expected normalized id, got %q", provider.ID())
	}

	raw, err := provider.AuthorizationURL(core.AuthorizationURLRequest{
		State:       "state-1",
		RedirectURI: "https://app.example/oauth/callback",
	})
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	query := parsed.Query()
	checks := map[string]string{
		"env":           "paper",
		"response_type": "code",
		"client_id":     "client-123",
		"redirect_uri":  "https://app.example/oauth/callback",
		"state":         "state-1",
		"scope":         "account:write trading",
		"prompt":        "consent",
	}
	for key, want := range checks {
		if got := query.Get(key); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}

	if _, err := provider.AuthorizationURL(core.AuthorizationURLRequest{}); err == nil {
		t.Fatalf("expected missing state to be rejected")
	}
}

func TestOAuth2Provider_ExchangeUsesBasicAuth(t *testing.T) {
	state, server := newTokenServer(t, http.StatusOK, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":1800,"scope":"read trade"}`)
	provider, err := NewOAuth2Provider(OAuth2Config{
		ID:           "schwab",
		AuthURL:      server.URL + "/authorize",
		TokenURL:     server.URL + "/token",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		Now:          fixedNow,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	tokens, err := provider.Exchange(context.Background(), core.ExchangeRequest{
		Code:        "code-1",
		RedirectURI: "https://app.example/oauth/callback",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Fatalf("unexpected tokens: %#v", tokens)
	}
	if tokens.TokenType != "bearer" {
		t.Fatalf("expected normalized token type, got %q", tokens.TokenType)
	}
	if tokens.ExpiresAt == nil || !tokens.ExpiresAt.Equal(fixedNow().Add(30*time.Minute)) {
		t.Fatalf("unexpected expiry: %v", tokens.ExpiresAt)
	}
	if strings.Join(tokens.Scopes, " ") != "read trade" {
		t.Fatalf("unexpected scopes: %v", tokens.Scopes)
	}
	if _, leaked := tokens.Raw["access_token"]; leaked {
		t.Fatalf("expected raw payload to omit token values")
	}

	form := state.forms[0]
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-1" {
		t.Fatalf("unexpected form: %v", form)
	}
	if form.Get("client_secret") != "" {
		t.Fatalf("expected client secret in basic auth only")
	}
	if state.basic[0] != "client-123" {
		t.Fatalf("expected basic auth user, got %q", state.basic[0])
	}
}

func TestOAuth2Provider_RefreshSendsSecretInBody(t *testing.T) {
	state, server := newTokenServer(t, http.StatusOK, "access_token=at-2&token_type=bearer")
	state.ctype = "application/x-www-form-urlencoded"
	provider, err := NewOAuth2Provider(OAuth2Config{
		ID:                 "alpaca",
		AuthURL:            server.URL + "/authorize",
		TokenURL:           server.URL + "/token",
		ClientID:           "client-123",
		ClientSecret:       "secret-456",
		ClientSecretInBody: true,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	tokens, err := provider.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "at-2" || tokens.RefreshToken != "" {
		t.Fatalf("unexpected tokens: %#v", tokens)
	}
	if tokens.ExpiresAt != nil {
		t.Fatalf("expected non-expiring token without ttl")
	}
	form := state.forms[0]
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "rt-1" {
		t.Fatalf("unexpected form: %v", form)
	}
	if form.Get("client_secret") != "secret-456" {
		t.Fatalf("expected client secret in body")
	}
}

func TestOAuth2Provider_TokenEndpointErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		code      string
		permanent bool
	}{
		{name: "invalid grant", status: http.StatusBadRequest, body: `{"error":"invalid_grant","error_description":"expired"}`, code: "invalid_grant", permanent: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `upstream down`, permanent: false},
		{name: "error with ok status", status: http.StatusOK, body: `{"error":"invalid_grant"}`, code: "invalid_grant", permanent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, server := newTokenServer(t, tc.status, tc.body)
			provider, err := NewOAuth2Provider(OAuth2Config{
				ID:       "schwab",
				AuthURL:  server.URL + "/authorize",
				TokenURL: server.URL + "/token",
				ClientID: "client-123",
			})
			if err != nil {
				t.Fatalf("new provider: %v", err)
			}
			_, err = provider.Refresh(context.Background(), "rt-1")
			var endpointErr *core.TokenEndpointError
			if !errors.As(err, &endpointErr) {
				t.Fatalf("expected token endpoint error, got %v", err)
			}
			if endpointErr.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, endpointErr.Code)
			}
			if endpointErr.Permanent() != tc.permanent {
				t.Fatalf("expected permanent=%v for %v", tc.permanent, endpointErr)
			}
		})
	}
}

func TestOAuth2Provider_MissingAccessToken(t *testing.T) {
	_, server := newTokenServer(t, http.StatusOK, `{"token_type":"bearer"}`)
	provider, err := NewOAuth2Provider(OAuth2Config{
		ID:       "schwab",
		AuthURL:  server.URL + "/authorize",
		TokenURL: server.URL + "/token",
		ClientID: "client-123",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Exchange(context.Background(), core.ExchangeRequest{Code: "code-1"}); err == nil {
		t.Fatalf("expected missing access token error")
	}
	if _, err := provider.Exchange(context.Background(), core.ExchangeRequest{}); !core.IsTokenExchangeFailed(err) {
		t.Fatalf("expected blank code to fail exchange, got %v", err)
	}
}

func TestNewOAuth2Provider_RequiresIDAuthURLAndClientID(t *testing.T) {
	_, err := NewOAuth2Provider(OAuth2Config{})
	if !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	_, err = NewOAuth2Provider(OAuth2Config{ID: "alpaca", AuthURL: "https://example.com/auth", TokenURL: "https://example.com/token"})
	if !core.IsConfigurationError(err) {
		t.Fatalf("expected missing client id configuration error, got %v", err)
	}
}

func TestBrokerPresets(t *testing.T) {
	alpaca, err := NewAlpacaOAuth(core.BrokerConfig{ClientID: "a-client", ClientSecret: "a-secret"}, BrokerOAuthOptions{})
	if err != nil {
		t.Fatalf("alpaca: %v", err)
	}
	if alpaca.ID() != AlpacaProviderID || alpaca.RotatesRefreshToken() {
		t.Fatalf("unexpected alpaca provider: %#v", alpaca.cfg)
	}
	raw, err := alpaca.AuthorizationURL(core.AuthorizationURLRequest{State: "s"})
	if err != nil {
		t.Fatalf("alpaca url: %v", err)
	}
	if !strings.HasPrefix(raw, alpacaAuthURL) || !strings.Contains(raw, "scope=account%3Awrite+data+trading") {
		t.Fatalf("unexpected alpaca url %q", raw)
	}

	_, server := newTokenServer(t, http.StatusOK, `{"access_token":"at","refresh_token":"rt"}`)
	schwab, err := NewSchwabOAuth(core.BrokerConfig{ClientID: "s-client", ClientSecret: "s-secret"}, BrokerOAuthOptions{
		TokenURL: server.URL + "/token",
		Now:      fixedNow,
	})
	if err != nil {
		t.Fatalf("schwab: %v", err)
	}
	tokens, err := schwab.Refresh(context.Background(), "rt")
	if err != nil {
		t.Fatalf("schwab refresh: %v", err)
	}
	if tokens.ExpiresAt == nil || !tokens.ExpiresAt.Equal(fixedNow().Add(schwabTokenTTL)) {
		t.Fatalf("expected default schwab ttl, got %v", tokens.ExpiresAt)
	}
}
