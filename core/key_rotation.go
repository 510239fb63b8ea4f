package core

import (
	"bytes"
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ReencryptResult struct {
	Scanned int
	Rotated int
	// Skipped counts records that changed or were locked by a refresh while
	// the sweep ran. The next sweep picks them up.
	Skipped int
	Failed  int
}

// ReencryptTokens moves every stored OAuth2 token and API-key connection
// onto the active vault key. Records that fail to decrypt are counted and
// left untouched.
//
// Sealing happens outside the per-credential lock. Under the lock the record
// is read again and written only if it still holds the ciphertext that was
// re-sealed.
func (s *Service) ReencryptTokens(ctx context.Context) (result ReencryptResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = result.Scanned
		fields["rotated"] = result.Rotated
		fields["skipped"] = result.Skipped
		fields["failed"] = result.Failed
		s.observeOperation(ctx, startedAt, "reencrypt_tokens", err, fields)
	}()

	if s.tokenStore == nil {
		err = NewConfigurationError("token store is not configured")
		return result, err
	}
	if s.keyRing == nil || s.vault == nil {
		err = NewConfigurationError("token vault is not configured")
		return result, err
	}
	activeVersion, _, err := s.keyRing.ActiveKey()
	if err != nil {
		return result, err
	}

	tokens, err := s.tokenStore.List(ctx)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	for _, token := range tokens {
		result.Scanned++
		if !tokenNeedsRotation(token, activeVersion) {
			continue
		}
		s.tally(ctx, &result, token.UserID, token.BrokerKey, s.rotateToken(ctx, token, activeVersion))
	}

	if s.connectionStore != nil {
		conns, listErr := s.connectionStore.List(ctx)
		if listErr != nil {
			err = s.mapError(listErr)
			return result, err
		}
		for _, conn := range conns {
			result.Scanned++
			if conn.APIKey.KeyVersion == activeVersion && conn.APISecret.KeyVersion == activeVersion {
				continue
			}
			s.tally(ctx, &result, conn.UserID, conn.BrokerKey, s.rotateConnection(ctx, conn, activeVersion))
		}
	}

	risk := AuditRiskLow
	status := AuditStatusSuccess
	if result.Failed > 0 {
		risk, status = AuditRiskHigh, AuditStatusFailure
	}
	s.audit(ctx, AuditEvent{
		Action:  AuditActionKeyRotation,
		Status:  status,
		Risk:    risk,
		Message: "stored credentials re-encrypted",
		Metadata: map[string]any{
			"key_version": activeVersion,
			"rotated":     result.Rotated,
			"skipped":     result.Skipped,
			"failed":      result.Failed,
		},
	})
	return result, nil
}

type rotationOutcome int

const (
	rotationDone rotationOutcome = iota
	rotationSkipped
	rotationFailed
)

type rotation struct {
	outcome rotationOutcome
	err     error
}

func (s *Service) tally(ctx context.Context, result *ReencryptResult, userID, brokerKey string, r rotation) {
	switch r.outcome {
	case rotationDone:
		result.Rotated++
	case rotationSkipped:
		result.Skipped++
		if r.err != nil {
			s.logInfo(ctx, "credential re-encryption deferred", map[string]any{
				"broker_key": brokerKey,
				"user_id":    userID,
				"reason":     r.err.Error(),
			})
		}
	default:
		result.Failed++
		s.logError(ctx, "credential re-encryption failed", map[string]any{
			"broker_key": brokerKey,
			"user_id":    userID,
			"error":      r.err.Error(),
		})
	}
}

func (s *Service) rotateToken(ctx context.Context, listed OAuthToken, activeVersion int) rotation {
	rotated, err := s.reencryptToken(listed)
	if err != nil {
		return rotation{outcome: rotationFailed, err: err}
	}
	handle, err := s.acquireRotationLock(ctx, listed.UserID, listed.BrokerKey)
	if err != nil {
		return rotation{outcome: rotationSkipped, err: err}
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()

	current, err := s.tokenStore.Get(ctx, listed.UserID, listed.BrokerKey)
	if err != nil {
		if goerrors.Is(err, ErrTokenNotFound) {
			return rotation{outcome: rotationSkipped}
		}
		return rotation{outcome: rotationFailed, err: err}
	}
	if !tokenNeedsRotation(current, activeVersion) {
		return rotation{outcome: rotationSkipped}
	}
	if !sameSecret(current.AccessToken, listed.AccessToken) || !sameOptionalSecret(current.RefreshToken, listed.RefreshToken) {
		return rotation{outcome: rotationSkipped}
	}
	current.AccessToken = rotated.AccessToken
	current.RefreshToken = rotated.RefreshToken
	current.UpdatedAt = rotated.UpdatedAt
	if _, err := s.tokenStore.Save(ctx, current); err != nil {
		return rotation{outcome: rotationFailed, err: err}
	}
	return rotation{outcome: rotationDone}
}

func (s *Service) rotateConnection(ctx context.Context, listed CredentialConnection, activeVersion int) rotation {
	apiKey, err := s.reseal(listed.APIKey)
	if err != nil {
		return rotation{outcome: rotationFailed, err: err}
	}
	apiSecret, err := s.reseal(listed.APISecret)
	if err != nil {
		return rotation{outcome: rotationFailed, err: err}
	}
	handle, err := s.acquireRotationLock(ctx, listed.UserID, listed.BrokerKey)
	if err != nil {
		return rotation{outcome: rotationSkipped, err: err}
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()

	current, err := s.connectionStore.Get(ctx, listed.UserID, listed.BrokerKey)
	if err != nil {
		if goerrors.Is(err, ErrConnectionNotFound) {
			return rotation{outcome: rotationSkipped}
		}
		return rotation{outcome: rotationFailed, err: err}
	}
	if current.ID != listed.ID || !sameSecret(current.APIKey, listed.APIKey) || !sameSecret(current.APISecret, listed.APISecret) {
		return rotation{outcome: rotationSkipped}
	}
	if err := s.connectionStore.UpdateSecrets(ctx, current.ID, apiKey, apiSecret); err != nil {
		return rotation{outcome: rotationFailed, err: err}
	}
	return rotation{outcome: rotationDone}
}

// acquireRotationLock takes the same per-credential lock the refresh engine
// holds, so a rotation never overwrites a freshly refreshed token.
func (s *Service) acquireRotationLock(ctx context.Context, userID, brokerKey string) (LockHandle, error) {
	ttl := s.config.Refresh.LockTTL
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}
	return s.connectionLocker.Acquire(ctx, refreshKey(userID, brokerKey), ttl)
}

func (s *Service) reencryptToken(token OAuthToken) (OAuthToken, error) {
	var err error
	if token.AccessToken, err = s.reseal(token.AccessToken); err != nil {
		return OAuthToken{}, err
	}
	if token.RefreshToken != nil {
		sealed, sealErr := s.reseal(*token.RefreshToken)
		if sealErr != nil {
			return OAuthToken{}, sealErr
		}
		token.RefreshToken = &sealed
	}
	token.UpdatedAt = s.now()
	return token, nil
}

func (s *Service) reseal(value EncryptedValue) (EncryptedValue, error) {
	plaintext, err := s.openSecret(value)
	if err != nil {
		return EncryptedValue{}, err
	}
	return s.sealSecret(plaintext)
}

func tokenNeedsRotation(token OAuthToken, activeVersion int) bool {
	return token.AccessToken.KeyVersion != activeVersion ||
		(token.RefreshToken != nil && token.RefreshToken.KeyVersion != activeVersion)
}

func sameSecret(a, b EncryptedValue) bool {
	return a.KeyVersion == b.KeyVersion &&
		bytes.Equal(a.Ciphertext, b.Ciphertext) &&
		bytes.Equal(a.IV, b.IV) &&
		bytes.Equal(a.AuthTag, b.AuthTag)
}

func sameOptionalSecret(a, b *EncryptedValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return sameSecret(*a, *b)
}
