package core

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ConnectAPIKeyRequest struct {
	BrokerKey   string
	UserID      string
	KeyID       string
	Secret      string
	AccountType string
}

// ConnectAPIKey stores encrypted API-key credentials for the user. The
// connection starts as pending_verification until VerifyConnection succeeds.
func (s *Service) ConnectAPIKey(ctx context.Context, req ConnectAPIKeyRequest) (conn CredentialConnection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"broker_key": normalizeBrokerKey(req.BrokerKey), "user_id": req.UserID}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect_api_key", err, fields)
	}()

	if strings.TrimSpace(req.UserID) == "" {
		err = NewAuthenticationRequired("")
		return CredentialConnection{}, err
	}
	descriptor, err := s.resolveBroker(req.BrokerKey)
	if err != nil {
		return CredentialConnection{}, err
	}
	if s.connectionStore == nil {
		err = NewConfigurationError("credential connection store is not configured")
		return CredentialConnection{}, err
	}
	if strings.TrimSpace(req.KeyID) == "" || strings.TrimSpace(req.Secret) == "" {
		err = goerrors.NewValidation("api credentials are required",
			goerrors.FieldError{Field: "key_id", Message: "required"},
			goerrors.FieldError{Field: "secret", Message: "required"},
		)
		return CredentialConnection{}, err
	}

	apiKey, err := s.sealSecret(req.KeyID)
	if err != nil {
		return CredentialConnection{}, err
	}
	apiSecret, err := s.sealSecret(req.Secret)
	if err != nil {
		return CredentialConnection{}, err
	}
	accountType := strings.TrimSpace(req.AccountType)
	if accountType == "" {
		accountType = "individual"
	}
	handle, err := s.acquireRotationLock(ctx, req.UserID, descriptor.ID)
	if err != nil {
		err = s.mapError(err)
		return CredentialConnection{}, err
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()
	conn, err = s.connectionStore.Save(ctx, CredentialConnection{
		UserID:      strings.TrimSpace(req.UserID),
		BrokerKey:   descriptor.ID,
		AccountType: accountType,
		APIKey:      apiKey,
		APISecret:   apiSecret,
		Status:      ConnectionStatusPendingVerification,
	})
	if err != nil {
		err = s.mapError(err)
		return CredentialConnection{}, err
	}
	return conn, nil
}

// VerifyConnection authenticates against the broker with the stored
// credentials and records the outcome on the connection.
func (s *Service) VerifyConnection(ctx context.Context, brokerKey string, identity Identity, env Environment) (conn CredentialConnection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"broker_key": normalizeBrokerKey(brokerKey), "user_id": identity.UserID}
	defer func() {
		s.observeOperation(ctx, startedAt, "verify_connection", err, fields)
	}()

	if s.connectionStore == nil {
		err = NewConfigurationError("credential connection store is not configured")
		return CredentialConnection{}, err
	}
	conn, err = s.connectionStore.Get(ctx, identity.UserID, normalizeBrokerKey(brokerKey))
	if err != nil {
		err = s.mapError(err)
		return CredentialConnection{}, err
	}
	adapter, err := s.NewAdapter(brokerKey, identity, env)
	if err != nil {
		return CredentialConnection{}, err
	}

	status, lastError := ConnectionStatusActive, ""
	if authErr := adapter.Authenticate(ctx); authErr != nil {
		status, lastError = ConnectionStatusError, SanitizeProviderMessage(authErr.Error())
		err = authErr
	}
	if updateErr := s.connectionStore.UpdateStatus(ctx, conn.ID, status, lastError); updateErr != nil && err == nil {
		err = s.mapError(updateErr)
	}
	conn.Status = status
	conn.LastError = lastError
	return conn, err
}

// APICredentials decrypts the stored API key pair for adapters.
func (s *Service) APICredentials(ctx context.Context, brokerKey string, userID string) (APICredentials, error) {
	if s.connectionStore == nil {
		return APICredentials{}, NewConfigurationError("credential connection store is not configured")
	}
	conn, err := s.connectionStore.Get(ctx, userID, normalizeBrokerKey(brokerKey))
	if err != nil {
		if goerrors.Is(err, ErrConnectionNotFound) {
			return APICredentials{}, NewAuthenticationRequired("no api credentials stored for broker " + normalizeBrokerKey(brokerKey))
		}
		return APICredentials{}, s.mapError(err)
	}
	if conn.Status == ConnectionStatusInactive {
		return APICredentials{}, NewTokenInvalid("credential connection is inactive")
	}
	keyID, err := s.openSecret(conn.APIKey)
	if err != nil {
		return APICredentials{}, err
	}
	secret, err := s.openSecret(conn.APISecret)
	if err != nil {
		return APICredentials{}, err
	}
	if usageErr := s.connectionStore.RecordUsage(ctx, conn.ID, false, s.now()); usageErr != nil {
		s.logError(ctx, "record credential usage failed", map[string]any{
			"broker_key": conn.BrokerKey,
			"error":      usageErr.Error(),
		})
	}
	return APICredentials{KeyID: keyID, Secret: secret}, nil
}

var _ APICredentialSource = (*Service)(nil)
