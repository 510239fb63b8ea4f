package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrTokenNotFound      = errors.New("core: oauth token not found")
	ErrConnectionNotFound = errors.New("core: credential connection not found")
)

type TokenStore interface {
	Get(ctx context.Context, userID string, brokerKey string) (OAuthToken, error)
	Save(ctx context.Context, token OAuthToken) (OAuthToken, error)
	Delete(ctx context.Context, userID string, brokerKey string) error
	ListExpiring(ctx context.Context, before time.Time) ([]OAuthToken, error)
	List(ctx context.Context) ([]OAuthToken, error)
}

type CredentialConnectionStore interface {
	Save(ctx context.Context, conn CredentialConnection) (CredentialConnection, error)
	Get(ctx context.Context, userID string, brokerKey string) (CredentialConnection, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, lastError string) error
	RecordUsage(ctx context.Context, id string, failed bool, at time.Time) error
	List(ctx context.Context) ([]CredentialConnection, error)
	// UpdateSecrets replaces the sealed key and secret without touching the
	// status or usage counters.
	UpdateSecrets(ctx context.Context, id string, apiKey EncryptedValue, apiSecret EncryptedValue) error
}

// AuthorizationStateStore holds at most one pending authorization per
// session. Take removes the record so a state can never be replayed.
type AuthorizationStateStore interface {
	Save(ctx context.Context, state AuthorizationState) error
	Take(ctx context.Context, sessionID string) (AuthorizationState, bool, error)
}

// SessionContext identifies the browser session an authorization flow is
// bound to.
type SessionContext struct {
	ID        string
	TenantID  string
	IP        string
	UserAgent string
}

type TokenVault interface {
	Encrypt(plaintext []byte, key []byte) (EncryptedValue, error)
	Decrypt(value EncryptedValue, key []byte) ([]byte, error)
}

type KeyRing interface {
	ActiveKey() (version int, key []byte, err error)
	Key(version int) ([]byte, error)
}

type AuthorizationURLRequest struct {
	State       string
	RedirectURI string
	Scopes      []string
	Params      map[string]string
}

type ExchangeRequest struct {
	Code        string
	RedirectURI string
}

type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Scopes       []string
	Raw          map[string]any
}

type OAuthProvider interface {
	ID() string
	AuthorizationURL(req AuthorizationURLRequest) (string, error)
	Exchange(ctx context.Context, req ExchangeRequest) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
	// RotatesRefreshToken reports whether a refresh response carries a new
	// refresh token that replaces the stored one.
	RotatesRefreshToken() bool
}

// TokenEndpointError is returned by OAuth providers when the token endpoint
// answers with a non-2xx status.
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e == nil {
		return ""
	}
	detail := e.Code
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	if e.Description != "" {
		detail += ": " + e.Description
	}
	return fmt.Sprintf("core: token endpoint error (%d): %s", e.StatusCode, detail)
}

// Permanent reports a client error that retrying cannot fix.
func (e *TokenEndpointError) Permanent() bool {
	return e != nil && e.StatusCode >= 400 && e.StatusCode < 500
}

type AccessTokenSource interface {
	AccessToken(ctx context.Context, brokerKey string, userID string) (string, error)
}

type APICredentials struct {
	KeyID  string
	Secret string
}

type APICredentialSource interface {
	APICredentials(ctx context.Context, brokerKey string, userID string) (APICredentials, error)
}

type BrokerAdapter interface {
	BrokerKey() string
	IsAuthenticated() bool
	AccountID() string
	Authenticate(ctx context.Context) error
	GetBalance(ctx context.Context, currency string) (NormalizedBalance, error)
	GetPositions(ctx context.Context) ([]NormalizedPosition, error)
	CreateOrder(ctx context.Context, spec OrderSpec) (NormalizedOrder, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	SetStopLoss(ctx context.Context, spec ProtectiveOrderSpec) (NormalizedOrder, error)
	SetTakeProfit(ctx context.Context, spec ProtectiveOrderSpec) (NormalizedOrder, error)
	GetOrderHistory(ctx context.Context, filter OrderHistoryFilter) ([]NormalizedOrder, error)
	GetMarketPrice(ctx context.Context, symbol string) (MarketPrice, error)
	IsSymbolSupported(ctx context.Context, symbol string) (bool, error)
	GetFees(ctx context.Context, symbol string) (FeeSchedule, error)
}

type AdapterDependencies struct {
	Tokens      AccessTokenSource
	Credentials APICredentialSource
	Transport   TransportAdapter
	RateLimit   RateLimitPolicy
	Logger      Logger
	Tracker     *StatusTracker

	// TrailPercent overrides DefaultTrailPercent when positive.
	TrailPercent float64
}

type AdapterFactory func(identity Identity, env Environment, deps AdapterDependencies) (BrokerAdapter, error)

type BrokerDescriptor struct {
	ID          string
	DisplayName string
	AuthKind    AuthKind
	OAuth       OAuthProvider
	Factory     AdapterFactory
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	Idempotency          string
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type RateLimitKey struct {
	BrokerKey string
	ScopeType string
	ScopeID   string
	BucketKey string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type CommandMessage interface {
	Type() string
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type StoreProvider interface {
	TokenStore() TokenStore
	CredentialConnectionStore() CredentialConnectionStore
	AuthorizationStateStore() AuthorizationStateStore
}

// CredentialService is the surface the command, query, and HTTP layers
// depend on.
type CredentialService interface {
	GenerateAuthorizationURL(ctx context.Context, brokerKey string, userID string, session SessionContext, opts AuthorizationOptions) (AuthorizationURL, error)
	ValidateState(ctx context.Context, callbackState string, session SessionContext) StateValidation
	CompleteAuthorization(ctx context.Context, req CallbackRequest, session SessionContext) (OAuthToken, error)
	Refresh(ctx context.Context, brokerKey string, userID string) (OAuthToken, error)
	AccessToken(ctx context.Context, brokerKey string, userID string) (string, error)
	Disconnect(ctx context.Context, brokerKey string, userID string) error
	ConnectAPIKey(ctx context.Context, req ConnectAPIKeyRequest) (CredentialConnection, error)
	VerifyConnection(ctx context.Context, brokerKey string, identity Identity, env Environment) (CredentialConnection, error)
	NewAdapter(brokerKey string, identity Identity, env Environment) (BrokerAdapter, error)
	ScheduleExpiringRefreshes(ctx context.Context, window time.Duration) (int, error)
	HandleRefreshJob(ctx context.Context, msg *JobExecutionMessage) error
	ReencryptTokens(ctx context.Context) (ReencryptResult, error)
}
