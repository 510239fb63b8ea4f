package sqlstore

import (
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:broker_oauth_tokens,alias:bot"`

	ID                 string               `bun:"id,pk"`
	UserID             string               `bun:"user_id,notnull"`
	BrokerKey          string               `bun:"broker_key,notnull"`
	TenantID           string               `bun:"tenant_id,notnull"`
	AccessToken        core.EncryptedValue  `bun:"access_token,type:jsonb,notnull"`
	RefreshToken       *core.EncryptedValue `bun:"refresh_token,type:jsonb"`
	ExpiresAt          *time.Time           `bun:"expires_at,nullzero"`
	Scopes             []string             `bun:"scopes,type:jsonb,notnull"`
	TokenType          string               `bun:"token_type,notnull"`
	KeyVersion         int                  `bun:"key_version,notnull"`
	ConnectedAt        time.Time            `bun:"connected_at,nullzero,notnull,default:current_timestamp"`
	IsValid            bool                 `bun:"is_valid,notnull"`
	LastRefreshError   string               `bun:"last_refresh_error,notnull"`
	LastRefreshAttempt *time.Time           `bun:"last_refresh_attempt,nullzero"`
	CreatedAt          time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type connectionRecord struct {
	bun.BaseModel `bun:"table:broker_connections,alias:bc"`

	ID           string               `bun:"id,pk"`
	UserID       string               `bun:"user_id,notnull"`
	BrokerKey    string               `bun:"broker_key,notnull"`
	AccountType  string               `bun:"account_type,notnull"`
	APIKey       *core.EncryptedValue `bun:"api_key,type:jsonb"`
	APISecret    *core.EncryptedValue `bun:"api_secret,type:jsonb"`
	Status       string               `bun:"status,notnull"`
	LastError    string               `bun:"last_error,notnull"`
	RequestCount int64                `bun:"request_count,notnull"`
	ErrorCount   int64                `bun:"error_count,notnull"`
	LastUsedAt   *time.Time           `bun:"last_used_at,nullzero"`
	CreatedAt    time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authorizationStateRecord struct {
	bun.BaseModel `bun:"table:broker_authorization_states,alias:bas"`

	SessionID   string    `bun:"session_id,pk"`
	State       string    `bun:"state,notnull"`
	UserID      string    `bun:"user_id,notnull"`
	BrokerKey   string    `bun:"broker_key,notnull"`
	TenantID    string    `bun:"tenant_id,notnull"`
	IP          string    `bun:"ip,notnull"`
	UserAgent   string    `bun:"user_agent,notnull"`
	RedirectURI string    `bun:"redirect_uri,notnull"`
	Scopes      []string  `bun:"scopes,type:jsonb,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:broker_rate_limit_state,alias:brl"`

	ID         string         `bun:"id,pk"`
	BrokerKey  string         `bun:"broker_key,notnull"`
	ScopeType  string         `bun:"scope_type,notnull"`
	ScopeID    string         `bun:"scope_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
