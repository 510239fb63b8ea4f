package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent calls for the same user and broker share one provider call.
// Client errors from the token endpoint invalidate the token without retry;
// server and network errors are retried on the configured backoff schedule.
func (s *Service) Refresh(ctx context.Context, brokerKey string, userID string) (OAuthToken, error) {
	if s == nil {
		return OAuthToken{}, fmt.Errorf("core: service is nil")
	}
	brokerKey = normalizeBrokerKey(brokerKey)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return OAuthToken{}, NewAuthenticationRequired("")
	}

	result, err, shared := s.refreshGroup.Do(refreshKey(userID, brokerKey), func() (any, error) {
		return s.refreshSerialized(ctx, brokerKey, userID)
	})
	if shared {
		s.recordCounter(ctx, MetricRefreshShared, 1, map[string]string{"broker_key": brokerKey})
	}
	if err != nil {
		return OAuthToken{}, err
	}
	token, _ := result.(OAuthToken)
	return token, nil
}

func (s *Service) refreshSerialized(ctx context.Context, brokerKey string, userID string) (token OAuthToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"broker_key": brokerKey, "user_id": userID}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if s.tokenStore == nil {
		err = NewConfigurationError("token store is not configured")
		return OAuthToken{}, err
	}
	descriptor, err := s.resolveOAuthBroker(brokerKey)
	if err != nil {
		return OAuthToken{}, err
	}

	lockTTL := s.config.Refresh.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultRefreshLockTTL
	}
	handle, err := s.connectionLocker.Acquire(ctx, refreshKey(userID, brokerKey), lockTTL)
	if err != nil {
		err = s.mapError(err)
		return OAuthToken{}, err
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()

	current, err := s.loadToken(ctx, userID, brokerKey)
	if err != nil {
		return OAuthToken{}, err
	}
	if !current.IsValid {
		err = NewTokenInvalid(current.LastRefreshError)
		return OAuthToken{}, err
	}
	if current.RefreshToken == nil || current.RefreshToken.IsZero() {
		err = NewTokenInvalid("no refresh token available")
		return OAuthToken{}, err
	}

	// Decrypt before any request is issued.
	refreshSecret, err := s.openSecret(*current.RefreshToken)
	if err != nil {
		return OAuthToken{}, err
	}

	tokens, attempts, callErr := s.callRefreshWithRetry(ctx, descriptor.OAuth, refreshSecret)
	fields["attempts"] = attempts
	now := s.now()
	current.LastRefreshAttempt = &now

	if callErr != nil {
		var endpointErr *TokenEndpointError
		if goerrors.As(callErr, &endpointErr) && endpointErr.Permanent() {
			return OAuthToken{}, s.invalidateToken(ctx, current, endpointErr)
		}
		return OAuthToken{}, s.exhaustRefresh(ctx, current, attempts, callErr)
	}

	access, err := s.sealSecret(tokens.AccessToken)
	if err != nil {
		return OAuthToken{}, err
	}
	current.AccessToken = access
	if descriptor.OAuth.RotatesRefreshToken() && strings.TrimSpace(tokens.RefreshToken) != "" {
		rotated, sealErr := s.sealSecret(tokens.RefreshToken)
		if sealErr != nil {
			err = sealErr
			return OAuthToken{}, err
		}
		current.RefreshToken = &rotated
	}
	current.ExpiresAt = tokens.ExpiresAt
	if len(tokens.Scopes) > 0 {
		current.Scopes = append([]string(nil), tokens.Scopes...)
	}
	if strings.TrimSpace(tokens.TokenType) != "" {
		current.TokenType = tokens.TokenType
	}
	current.IsValid = true
	current.LastRefreshError = ""
	current.UpdatedAt = now

	saved, err := s.tokenStore.Save(ctx, current)
	if err != nil {
		err = s.mapError(err)
		return OAuthToken{}, err
	}
	s.audit(ctx, AuditEvent{
		UserID:    userID,
		BrokerKey: brokerKey,
		Action:    AuditActionTokenRefresh,
		Status:    AuditStatusSuccess,
		Risk:      AuditRiskMedium,
		Message:   "access token refreshed",
		Metadata:  map[string]any{"attempts": attempts},
	})
	return saved, nil
}

func (s *Service) callRefreshWithRetry(ctx context.Context, provider OAuthProvider, refreshSecret string) (TokenSet, int, error) {
	maxAttempts := s.config.Refresh.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshMaxAttempts
	}
	backoff := RefreshBackoff(defaultRefreshBackoff)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.recordCounter(ctx, MetricRefreshAttempts, 1, map[string]string{"broker_key": provider.ID()})
		tokens, err := provider.Refresh(ctx, refreshSecret)
		if err == nil {
			return tokens, attempt, nil
		}
		lastErr = err

		var endpointErr *TokenEndpointError
		if goerrors.As(err, &endpointErr) && endpointErr.Permanent() {
			return TokenSet{}, attempt, err
		}
		if attempt == maxAttempts {
			return TokenSet{}, attempt, err
		}
		if waitErr := s.sleepFn(ctx, backoff.NextDelay(attempt)); waitErr != nil {
			return TokenSet{}, attempt, waitErr
		}
	}
	return TokenSet{}, maxAttempts, lastErr
}

func (s *Service) invalidateToken(ctx context.Context, token OAuthToken, cause *TokenEndpointError) error {
	reason := strings.TrimSpace(cause.Code)
	if reason == "" {
		reason = SanitizeProviderMessage(cause.Error())
	}
	token.IsValid = false
	token.LastRefreshError = reason
	token.UpdatedAt = s.now()
	if _, err := s.tokenStore.Save(ctx, token); err != nil {
		s.logError(ctx, "persist invalidated token failed", map[string]any{
			"broker_key": token.BrokerKey,
			"user_id":    token.UserID,
			"error":      err.Error(),
		})
	}
	s.audit(ctx, AuditEvent{
		UserID:    token.UserID,
		BrokerKey: token.BrokerKey,
		Action:    AuditActionTokenRefresh,
		Status:    AuditStatusFailure,
		Risk:      AuditRiskHigh,
		Message:   "token refresh rejected: " + reason,
		Metadata:  map[string]any{"http_status": cause.StatusCode},
	})
	return NewTokenInvalid(reason)
}

func (s *Service) exhaustRefresh(ctx context.Context, token OAuthToken, attempts int, cause error) error {
	if ctx.Err() != nil {
		return s.mapError(cause)
	}
	token.LastRefreshError = fmt.Sprintf("refresh failed after %d attempts: %s", attempts, SanitizeProviderMessage(cause.Error()))
	token.UpdatedAt = s.now()
	if _, err := s.tokenStore.Save(ctx, token); err != nil {
		s.logError(ctx, "persist refresh failure failed", map[string]any{
			"broker_key": token.BrokerKey,
			"user_id":    token.UserID,
			"error":      err.Error(),
		})
	}
	s.audit(ctx, AuditEvent{
		UserID:    token.UserID,
		BrokerKey: token.BrokerKey,
		Action:    AuditActionTokenRefresh,
		Status:    AuditStatusFailure,
		Risk:      AuditRiskHigh,
		Message:   "token refresh exhausted retries",
		Metadata:  map[string]any{"attempts": attempts},
	})
	return NewTokenRefreshExhausted(attempts, cause)
}

// AccessToken returns a usable access token, refreshing it first when it
// expires within the configured leeway.
func (s *Service) AccessToken(ctx context.Context, brokerKey string, userID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: service is nil")
	}
	if strings.TrimSpace(userID) == "" {
		return "", NewAuthenticationRequired("")
	}
	if s.tokenStore == nil {
		return "", NewConfigurationError("token store is not configured")
	}
	brokerKey = normalizeBrokerKey(brokerKey)
	token, err := s.loadToken(ctx, userID, brokerKey)
	if err != nil {
		return "", err
	}
	if !token.IsValid {
		return "", NewTokenInvalid(token.LastRefreshError)
	}
	leeway := s.config.Refresh.ExpiryLeeway
	if leeway <= 0 {
		leeway = defaultRefreshExpiryLeeway
	}
	if token.ExpiresWithin(s.now(), leeway) {
		if token.RefreshToken == nil || token.RefreshToken.IsZero() {
			return "", NewAuthenticationExpired(brokerKey)
		}
		token, err = s.Refresh(ctx, brokerKey, userID)
		if err != nil {
			return "", err
		}
	}
	return s.openSecret(token.AccessToken)
}

func (s *Service) loadToken(ctx context.Context, userID string, brokerKey string) (OAuthToken, error) {
	token, err := s.tokenStore.Get(ctx, userID, brokerKey)
	if err != nil {
		if goerrors.Is(err, ErrTokenNotFound) {
			return OAuthToken{}, NewTokenNotFound(brokerKey)
		}
		return OAuthToken{}, s.mapError(err)
	}
	return token, nil
}

func refreshKey(userID string, brokerKey string) string {
	return "refresh:" + strings.TrimSpace(userID) + ":" + normalizeBrokerKey(brokerKey)
}

var _ AccessTokenSource = (*Service)(nil)
