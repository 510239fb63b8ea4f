package core

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

type AuthorizationOptions struct {
	RedirectURI string
	Scopes      []string
	Params      map[string]string
}

type AuthorizationURL struct {
	URL       string
	State     string
	BrokerKey string
	ExpiresAt time.Time
}

// StateValidation is the outcome of checking a callback state. Err is set
// when Valid is false.
type StateValidation struct {
	Valid       bool
	UserID      string
	BrokerKey   string
	TenantID    string
	RedirectURI string
	Err         error
}

type CallbackRequest struct {
	BrokerKey        string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// GenerateAuthorizationURL starts an authorization code flow for the user and
// binds a fresh state nonce to the session.
func (s *Service) GenerateAuthorizationURL(
	ctx context.Context,
	brokerKey string,
	userID string,
	session SessionContext,
	opts AuthorizationOptions,
) (result AuthorizationURL, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"broker_key": normalizeBrokerKey(brokerKey),
		"user_id":    userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "generate_authorization_url", err, fields)
	}()

	descriptor, err := s.resolveOAuthBroker(brokerKey)
	if err != nil {
		return AuthorizationURL{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		err = NewAuthenticationRequired("a user id is required to start authorization")
		return AuthorizationURL{}, err
	}
	if strings.TrimSpace(session.ID) == "" {
		err = s.mapError(fmt.Errorf("core: session id is required"))
		return AuthorizationURL{}, err
	}

	state, err := generateAuthorizationState()
	if err != nil {
		err = s.mapError(err)
		return AuthorizationURL{}, err
	}
	redirectURI := s.resolveRedirectURI(descriptor.ID, opts.RedirectURI)
	scopes := s.resolveScopes(descriptor.ID, opts.Scopes)

	authURL, err := descriptor.OAuth.AuthorizationURL(AuthorizationURLRequest{
		State:       state,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Params:      opts.Params,
	})
	if err != nil {
		err = NewConfigurationError(err.Error(), map[string]any{"broker_key": descriptor.ID})
		return AuthorizationURL{}, err
	}

	createdAt := s.now()
	if err = s.stateStore.Save(ctx, AuthorizationState{
		State:       state,
		SessionID:   session.ID,
		UserID:      userID,
		BrokerKey:   descriptor.ID,
		TenantID:    session.TenantID,
		IP:          session.IP,
		UserAgent:   session.UserAgent,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		CreatedAt:   createdAt,
	}); err != nil {
		err = s.mapError(err)
		return AuthorizationURL{}, err
	}

	s.audit(ctx, AuditEvent{
		UserID:    userID,
		BrokerKey: descriptor.ID,
		Action:    AuditActionAuthorizationStarted,
		Status:    AuditStatusSuccess,
		Risk:      AuditRiskLow,
		IP:        session.IP,
		UserAgent: session.UserAgent,
		Message:   "authorization started",
	})

	return AuthorizationURL{
		URL:       authURL,
		State:     state,
		BrokerKey: descriptor.ID,
		ExpiresAt: createdAt.Add(s.stateMaxAge()),
	}, nil
}

// ValidateState checks the callback state against the session's pending
// authorization. The pending record is consumed whatever the outcome. Every
// rejection emits one critical audit event.
func (s *Service) ValidateState(ctx context.Context, callbackState string, session SessionContext) StateValidation {
	record, found, takeErr := s.stateStore.Take(ctx, session.ID)
	if takeErr != nil {
		s.logError(ctx, "authorization state lookup failed", map[string]any{"error": takeErr.Error()})
		found = false
	}

	reject := func(textCode string, message string) StateValidation {
		err := NewCSRFValidationFailed(textCode, message)
		s.audit(ctx, AuditEvent{
			UserID:    record.UserID,
			BrokerKey: record.BrokerKey,
			Action:    AuditActionStateValidation,
			Status:    AuditStatusFailure,
			Risk:      AuditRiskCritical,
			IP:        session.IP,
			UserAgent: session.UserAgent,
			Message:   message,
			Metadata:  map[string]any{"reason": textCode},
		})
		s.recordCounter(ctx, MetricStateRejected, 1, map[string]string{"status": "rejected", "reason": textCode})
		return StateValidation{Valid: false, Err: err}
	}

	if !found || strings.TrimSpace(record.State) == "" {
		return reject(ErrorCSRFStateMissing, "no pending authorization for this session")
	}
	if callbackState == "" || subtle.ConstantTimeCompare([]byte(callbackState), []byte(record.State)) != 1 {
		return reject(ErrorCSRFStateMismatch, "authorization state does not match")
	}
	if s.now().Sub(record.CreatedAt) > s.stateMaxAge() {
		return reject(ErrorCSRFStateExpired, "authorization state has expired")
	}

	return StateValidation{
		Valid:       true,
		UserID:      record.UserID,
		BrokerKey:   record.BrokerKey,
		TenantID:    record.TenantID,
		RedirectURI: record.RedirectURI,
	}
}

// CompleteAuthorization validates the callback, exchanges the code and stores
// the encrypted token for the user bound to the state.
func (s *Service) CompleteAuthorization(ctx context.Context, req CallbackRequest, session SessionContext) (token OAuthToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"broker_key": normalizeBrokerKey(req.BrokerKey)}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	validation := s.ValidateState(ctx, req.State, session)
	if !validation.Valid {
		err = validation.Err
		return OAuthToken{}, err
	}
	fields["user_id"] = validation.UserID
	fields["broker_key"] = validation.BrokerKey

	if key := normalizeBrokerKey(req.BrokerKey); key != "" && key != validation.BrokerKey {
		message := "callback broker does not match pending authorization"
		err = NewCSRFValidationFailed(ErrorCSRFStateMismatch, message)
		s.audit(ctx, AuditEvent{
			UserID:    validation.UserID,
			BrokerKey: validation.BrokerKey,
			Action:    AuditActionStateValidation,
			Status:    AuditStatusFailure,
			Risk:      AuditRiskCritical,
			IP:        session.IP,
			UserAgent: session.UserAgent,
			Message:   message,
			Metadata:  map[string]any{"reason": ErrorCSRFStateMismatch, "callback_broker": key},
		})
		return OAuthToken{}, err
	}

	fail := func(cause string) error {
		exchangeErr := NewTokenExchangeFailed(cause, map[string]any{"broker_key": validation.BrokerKey})
		s.audit(ctx, AuditEvent{
			UserID:    validation.UserID,
			BrokerKey: validation.BrokerKey,
			Action:    AuditActionTokenExchange,
			Status:    AuditStatusFailure,
			Risk:      AuditRiskHigh,
			IP:        session.IP,
			UserAgent: session.UserAgent,
			Message:   exchangeErr.Message,
		})
		return exchangeErr
	}

	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		err = fail(providerErr)
		return OAuthToken{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		err = fail("invalid_request")
		return OAuthToken{}, err
	}
	if s.tokenStore == nil {
		err = NewConfigurationError("token store is not configured")
		return OAuthToken{}, err
	}

	descriptor, err := s.resolveOAuthBroker(validation.BrokerKey)
	if err != nil {
		return OAuthToken{}, err
	}
	tokens, exchangeErr := descriptor.OAuth.Exchange(ctx, ExchangeRequest{
		Code:        code,
		RedirectURI: validation.RedirectURI,
	})
	if exchangeErr != nil {
		s.logError(ctx, "token exchange failed", map[string]any{
			"broker_key": descriptor.ID,
			"user_id":    validation.UserID,
			"error":      exchangeErr.Error(),
		})
		err = fail(exchangeErr.Error())
		return OAuthToken{}, err
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		err = fail("token endpoint returned no access token")
		return OAuthToken{}, err
	}

	token, err = s.buildToken(validation, tokens)
	if err != nil {
		return OAuthToken{}, err
	}
	token, err = s.tokenStore.Save(ctx, token)
	if err != nil {
		err = s.mapError(err)
		return OAuthToken{}, err
	}

	s.audit(ctx, AuditEvent{
		UserID:    validation.UserID,
		BrokerKey: descriptor.ID,
		Action:    AuditActionTokenExchange,
		Status:    AuditStatusSuccess,
		Risk:      AuditRiskMedium,
		IP:        session.IP,
		UserAgent: session.UserAgent,
		Message:   "broker connected",
	})
	return token, nil
}

func (s *Service) buildToken(validation StateValidation, tokens TokenSet) (OAuthToken, error) {
	access, err := s.sealSecret(tokens.AccessToken)
	if err != nil {
		return OAuthToken{}, err
	}
	var refresh *EncryptedValue
	if strings.TrimSpace(tokens.RefreshToken) != "" {
		sealed, sealErr := s.sealSecret(tokens.RefreshToken)
		if sealErr != nil {
			return OAuthToken{}, sealErr
		}
		refresh = &sealed
	}
	now := s.now()
	return OAuthToken{
		UserID:       validation.UserID,
		BrokerKey:    validation.BrokerKey,
		TenantID:     validation.TenantID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    tokens.ExpiresAt,
		Scopes:       append([]string(nil), tokens.Scopes...),
		TokenType:    tokens.TokenType,
		ConnectedAt:  now,
		IsValid:      true,
		UpdatedAt:    now,
	}, nil
}

// Disconnect removes the stored token for the user and broker.
func (s *Service) Disconnect(ctx context.Context, brokerKey string, userID string) (err error) {
	startedAt := time.Now().UTC()
	brokerKey = normalizeBrokerKey(brokerKey)
	fields := map[string]any{"broker_key": brokerKey, "user_id": userID}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if strings.TrimSpace(userID) == "" {
		err = NewAuthenticationRequired("")
		return err
	}
	if s.tokenStore == nil {
		err = NewConfigurationError("token store is not configured")
		return err
	}
	if err = s.tokenStore.Delete(ctx, userID, brokerKey); err != nil {
		err = s.mapError(err)
		return err
	}
	s.audit(ctx, AuditEvent{
		UserID:    userID,
		BrokerKey: brokerKey,
		Action:    AuditActionDisconnect,
		Status:    AuditStatusSuccess,
		Risk:      AuditRiskMedium,
		Message:   "broker disconnected",
	})
	return nil
}

func (s *Service) resolveRedirectURI(brokerKey string, requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if cfg, ok := s.config.Broker(brokerKey); ok && strings.TrimSpace(cfg.RedirectURI) != "" {
		return strings.TrimSpace(cfg.RedirectURI)
	}
	return strings.TrimSpace(s.config.OAuth.RedirectURI)
}

func (s *Service) resolveScopes(brokerKey string, requested []string) []string {
	if len(requested) > 0 {
		return append([]string(nil), requested...)
	}
	if cfg, ok := s.config.Broker(brokerKey); ok && len(cfg.Scopes) > 0 {
		return append([]string(nil), cfg.Scopes...)
	}
	return nil
}

func (s *Service) stateMaxAge() time.Duration {
	if s.config.OAuth.StateMaxAge > 0 {
		return s.config.OAuth.StateMaxAge
	}
	return defaultStateMaxAge
}
