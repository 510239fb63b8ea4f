package sqlstore

import (
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

func newTokenRecord(token core.OAuthToken, now time.Time) *tokenRecord {
	record := &tokenRecord{
		UserID:             strings.TrimSpace(token.UserID),
		BrokerKey:          normalizeBrokerKey(token.BrokerKey),
		TenantID:           strings.TrimSpace(token.TenantID),
		AccessToken:        copyEncryptedValue(token.AccessToken),
		ExpiresAt:          copyTimePointer(token.ExpiresAt),
		Scopes:             copyStrings(token.Scopes),
		TokenType:          strings.TrimSpace(token.TokenType),
		KeyVersion:         token.AccessToken.KeyVersion,
		ConnectedAt:        token.ConnectedAt.UTC(),
		IsValid:            token.IsValid,
		LastRefreshError:   token.LastRefreshError,
		LastRefreshAttempt: copyTimePointer(token.LastRefreshAttempt),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if token.RefreshToken != nil {
		refresh := copyEncryptedValue(*token.RefreshToken)
		record.RefreshToken = &refresh
	}
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}
	if record.ConnectedAt.IsZero() {
		record.ConnectedAt = now
	}
	if !token.UpdatedAt.IsZero() {
		record.UpdatedAt = token.UpdatedAt.UTC()
	}
	return record
}

func (r *tokenRecord) toDomain() core.OAuthToken {
	if r == nil {
		return core.OAuthToken{}
	}
	token := core.OAuthToken{
		UserID:             r.UserID,
		BrokerKey:          r.BrokerKey,
		TenantID:           r.TenantID,
		AccessToken:        copyEncryptedValue(r.AccessToken),
		ExpiresAt:          copyTimePointer(r.ExpiresAt),
		Scopes:             copyStrings(r.Scopes),
		TokenType:          r.TokenType,
		ConnectedAt:        r.ConnectedAt.UTC(),
		IsValid:            r.IsValid,
		LastRefreshError:   r.LastRefreshError,
		LastRefreshAttempt: copyTimePointer(r.LastRefreshAttempt),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if token.AccessToken.KeyVersion == 0 {
		token.AccessToken.KeyVersion = r.KeyVersion
	}
	if r.RefreshToken != nil {
		refresh := copyEncryptedValue(*r.RefreshToken)
		token.RefreshToken = &refresh
	}
	return token
}

func newConnectionRecord(conn core.CredentialConnection, now time.Time) *connectionRecord {
	record := &connectionRecord{
		ID:           strings.TrimSpace(conn.ID),
		UserID:       strings.TrimSpace(conn.UserID),
		BrokerKey:    normalizeBrokerKey(conn.BrokerKey),
		AccountType:  strings.TrimSpace(conn.AccountType),
		Status:       string(conn.Status),
		LastError:    conn.LastError,
		RequestCount: conn.RequestCount,
		ErrorCount:   conn.ErrorCount,
		LastUsedAt:   copyTimePointer(conn.LastUsedAt),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !conn.APIKey.IsZero() {
		value := copyEncryptedValue(conn.APIKey)
		record.APIKey = &value
	}
	if !conn.APISecret.IsZero() {
		value := copyEncryptedValue(conn.APISecret)
		record.APISecret = &value
	}
	if record.Status == "" {
		record.Status = string(core.ConnectionStatusPendingVerification)
	}
	return record
}

func (r *connectionRecord) toDomain() core.CredentialConnection {
	if r == nil {
		return core.CredentialConnection{}
	}
	conn := core.CredentialConnection{
		ID:           r.ID,
		UserID:       r.UserID,
		BrokerKey:    r.BrokerKey,
		AccountType:  r.AccountType,
		Status:       core.ConnectionStatus(r.Status),
		LastError:    r.LastError,
		RequestCount: r.RequestCount,
		ErrorCount:   r.ErrorCount,
		LastUsedAt:   copyTimePointer(r.LastUsedAt),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.APIKey != nil {
		conn.APIKey = copyEncryptedValue(*r.APIKey)
	}
	if r.APISecret != nil {
		conn.APISecret = copyEncryptedValue(*r.APISecret)
	}
	return conn
}

func newAuthorizationStateRecord(state core.AuthorizationState, now time.Time) *authorizationStateRecord {
	record := &authorizationStateRecord{
		SessionID:   strings.TrimSpace(state.SessionID),
		State:       strings.TrimSpace(state.State),
		UserID:      strings.TrimSpace(state.UserID),
		BrokerKey:   normalizeBrokerKey(state.BrokerKey),
		TenantID:    strings.TrimSpace(state.TenantID),
		IP:          strings.TrimSpace(state.IP),
		UserAgent:   state.UserAgent,
		RedirectURI: strings.TrimSpace(state.RedirectURI),
		Scopes:      copyStrings(state.Scopes),
		CreatedAt:   state.CreatedAt.UTC(),
	}
	if state.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *authorizationStateRecord) toDomain() core.AuthorizationState {
	if r == nil {
		return core.AuthorizationState{}
	}
	return core.AuthorizationState{
		State:       r.State,
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		BrokerKey:   r.BrokerKey,
		TenantID:    r.TenantID,
		IP:          r.IP,
		UserAgent:   r.UserAgent,
		RedirectURI: r.RedirectURI,
		Scopes:      copyStrings(r.Scopes),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func normalizeBrokerKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func copyEncryptedValue(in core.EncryptedValue) core.EncryptedValue {
	return core.EncryptedValue{
		Ciphertext: append([]byte(nil), in.Ciphertext...),
		IV:         append([]byte(nil), in.IV...),
		AuthTag:    append([]byte(nil), in.AuthTag...),
		KeyVersion: in.KeyVersion,
	}
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}

func copyTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
