package providers

import (
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

const (
	AlpacaProviderID = "alpaca"
	SchwabProviderID = "schwab"

	alpacaAuthURL  = "https://app.alpaca.markets/oauth/authorize"
	alpacaTokenURL = "https://api.alpaca.markets/oauth/token"
	schwabAuthURL  = "https://api.schwabapi.com/v1/oauth/authorize"
	schwabTokenURL = "https://api.schwabapi.com/v1/oauth/token"

	// Schwab access tokens last thirty minutes when expires_in is absent.
	schwabTokenTTL = 30 * time.Minute
)

var alpacaDefaultScopes = []string{"account:write", "trading", "data"}

// BrokerOAuthOptions overrides endpoints and the HTTP client, mainly for
// sandboxes and tests.
type BrokerOAuthOptions struct {
	AuthURL    string
	TokenURL   string
	HTTPClient HTTPDoer
	Timeout    time.Duration
	Now        func() time.Time
}

// NewAlpacaOAuth builds the Alpaca provider. Alpaca access tokens do not
// expire and no refresh token is issued.
func NewAlpacaOAuth(cfg core.BrokerConfig, opts BrokerOAuthOptions) (*OAuth2Provider, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = alpacaDefaultScopes
	}
	return NewOAuth2Provider(OAuth2Config{
		ID:                  AlpacaProviderID,
		AuthURL:             firstNonEmpty(opts.AuthURL, alpacaAuthURL),
		TokenURL:            firstNonEmpty(opts.TokenURL, alpacaTokenURL),
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		ClientSecretInBody:  true,
		DefaultScopes:       scopes,
		RotatesRefreshToken: false,
		TokenRequestTimeout: opts.Timeout,
		Now:                 opts.Now,
		HTTPClient:          opts.HTTPClient,
	})
}

// NewSchwabOAuth builds the Schwab provider. Client credentials travel as
// HTTP basic auth and the refresh token is kept across refreshes.
func NewSchwabOAuth(cfg core.BrokerConfig, opts BrokerOAuthOptions) (*OAuth2Provider, error) {
	return NewOAuth2Provider(OAuth2Config{
		ID:                  SchwabProviderID,
		AuthURL:             firstNonEmpty(opts.AuthURL, schwabAuthURL),
		TokenURL:            firstNonEmpty(opts.TokenURL, schwabTokenURL),
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		DefaultScopes:       cfg.Scopes,
		RotatesRefreshToken: false,
		TokenTTL:            schwabTokenTTL,
		TokenRequestTimeout: opts.Timeout,
		Now:                 opts.Now,
		HTTPClient:          opts.HTTPClient,
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
