package tradeexec

import "github.com/chendrizzy/discord-trade-exec-sub002/core"

type Config = core.Config

type BrokerConfig = core.BrokerConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type CredentialService = core.CredentialService
type TokenStore = core.TokenStore
type CredentialConnectionStore = core.CredentialConnectionStore
type AuthorizationStateStore = core.AuthorizationStateStore
type ConnectionLocker = core.ConnectionLocker
type BrokerRegistry = core.BrokerRegistry
type BrokerDescriptor = core.BrokerDescriptor
type BrokerAdapter = core.BrokerAdapter

type SessionContext = core.SessionContext
type AuthorizationOptions = core.AuthorizationOptions
type CallbackRequest = core.CallbackRequest
type ConnectAPIKeyRequest = core.ConnectAPIKeyRequest

var (
	WithLogger                    = core.WithLogger
	WithLoggerProvider            = core.WithLoggerProvider
	WithMetricsRecorder           = core.WithMetricsRecorder
	WithErrorFactory              = core.WithErrorFactory
	WithErrorMapper               = core.WithErrorMapper
	WithPersistenceClient         = core.WithPersistenceClient
	WithRepositoryFactory         = core.WithRepositoryFactory
	WithConfigProvider            = core.WithConfigProvider
	WithOptionsResolver           = core.WithOptionsResolver
	WithAuthorizationStateStore   = core.WithAuthorizationStateStore
	WithConnectionLocker          = core.WithConnectionLocker
	WithBrokerRegistry            = core.WithBrokerRegistry
	WithTokenStore                = core.WithTokenStore
	WithCredentialConnectionStore = core.WithCredentialConnectionStore
	WithTokenVault                = core.WithTokenVault
	WithKeyRing                   = core.WithKeyRing
	WithAuditSink                 = core.WithAuditSink
	WithTransport                 = core.WithTransport
	WithRateLimitPolicy           = core.WithRateLimitPolicy
	WithJobEnqueuer               = core.WithJobEnqueuer
	WithClock                     = core.WithClock
	WithSleeper                   = core.WithSleeper
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
