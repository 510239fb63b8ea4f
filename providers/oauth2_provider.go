package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

const maxTokenResponseBodyBytes = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2Config struct {
	ID                 string
	AuthURL            string
	TokenURL           string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	DefaultScopes      []string
	// ExtraAuthParams are appended to every authorization URL.
	ExtraAuthParams map[string]string
	// RotatesRefreshToken marks providers whose refresh response replaces
	// the stored refresh token.
	RotatesRefreshToken bool
	// TokenTTL applies when the endpoint omits expires_in. Zero means the
	// token never expires.
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
}

// OAuth2Provider speaks the authorization code grant against a single
// broker authorization server.
type OAuth2Provider struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
	Raw              map[string]any
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, core.NewConfigurationError("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("providers: auth url is required for provider %q", cfg.ID))
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("providers: token url is required for provider %q", cfg.ID))
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("providers: client id is required for provider %q", cfg.ID))
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	cfg.TokenRequestTimeout = core.ClampHTTPTimeout(cfg.TokenRequestTimeout)
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Provider{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (p *OAuth2Provider) RotatesRefreshToken() bool {
	return p != nil && p.cfg.RotatesRefreshToken
}

func (p *OAuth2Provider) AuthorizationURL(req core.AuthorizationURLRequest) (string, error) {
	if p == nil {
		return "", core.NewConfigurationError("providers: oauth2 provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return "", core.NewConfigurationError("providers: state is required")
	}
	scopes := normalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}

	values := url.Values{}
	for key, value := range p.cfg.ExtraAuthParams {
		if strings.TrimSpace(key) != "" {
			values.Set(key, value)
		}
	}
	for key, value := range req.Params {
		if strings.TrimSpace(key) != "" {
			values.Set(key, value)
		}
	}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	values.Set("state", state)

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return authURL, nil
}

func (p *OAuth2Provider) Exchange(ctx context.Context, req core.ExchangeRequest) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, core.NewConfigurationError("providers: oauth2 provider is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenSet{}, core.NewTokenExchangeFailed("providers: authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return p.tokenSet(payload), nil
}

func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, core.NewConfigurationError("providers: oauth2 provider is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, core.NewTokenInvalid("refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return p.tokenSet(payload), nil
}

func (p *OAuth2Provider) tokenSet(payload tokenEndpointPayload) core.TokenSet {
	return core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    normalizeTokenType(payload.TokenType),
		ExpiresAt:    p.resolveExpiresAt(p.cfg.Now().UTC(), payload.ExpiresIn),
		Scopes:       normalizeScopes(parseScopeList(payload.Scope)),
		Raw:          payload.Raw,
	}
}

func (p *OAuth2Provider) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if p.httpClient == nil {
		return tokenEndpointPayload{}, core.NewConfigurationError("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, &core.TokenEndpointError{
			StatusCode:  response.StatusCode,
			Code:        payload.ErrorCode,
			Description: payload.ErrorDescription,
		}
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		// some servers report grant errors with a 200
		return tokenEndpointPayload{}, &core.TokenEndpointError{
			StatusCode:  http.StatusBadRequest,
			Code:        payload.ErrorCode,
			Description: payload.ErrorDescription,
		}
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	raw := make(map[string]any, len(decoded))
	for key, value := range decoded {
		switch key {
		case "access_token", "refresh_token", "id_token":
			continue
		}
		raw[key] = value
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
		Raw:              raw,
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func (p *OAuth2Provider) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := p.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

var _ core.OAuthProvider = (*OAuth2Provider)(nil)
