package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateStore        AuthorizationStateStore
	connectionLocker  ConnectionLocker
	registry          *BrokerRegistry
	tokenStore        TokenStore
	connectionStore   CredentialConnectionStore
	vault             TokenVault
	keyRing           KeyRing
	auditSink         AuditSink
	transport         TransportAdapter
	rateLimitPolicy   RateLimitPolicy
	jobEnqueuer       JobEnqueuer
	nowFn             func() time.Time
	sleepFn           func(ctx context.Context, delay time.Duration) error
	refreshGroup      singleflight.Group
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	StateStore        AuthorizationStateStore
	ConnectionLocker  ConnectionLocker
	Registry          *BrokerRegistry
	TokenStore        TokenStore
	ConnectionStore   CredentialConnectionStore
	Vault             TokenVault
	KeyRing           KeyRing
	AuditSink         AuditSink
	Transport         TransportAdapter
	RateLimitPolicy   RateLimitPolicy
	JobEnqueuer       JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("tradeexec", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("tradeexec"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewBrokerRegistry()
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.auditSink == nil {
		builder.auditSink = LoggerAuditSink{Logger: logger}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if builder.sleepFn == nil {
		builder.sleepFn = waitWithContext
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.tokenStore == nil {
				builder.tokenStore = stores.TokenStore()
			}
			if builder.connectionStore == nil {
				builder.connectionStore = stores.CredentialConnectionStore()
			}
			if builder.stateStore == nil {
				builder.stateStore = stores.AuthorizationStateStore()
			}
		}
	}
	if builder.stateStore == nil {
		builder.stateStore = NewMemoryAuthorizationStateStore(defaultStateRetention)
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateStore:        builder.stateStore,
		connectionLocker:  builder.connectionLocker,
		registry:          builder.registry,
		tokenStore:        builder.tokenStore,
		connectionStore:   builder.connectionStore,
		vault:             builder.vault,
		keyRing:           builder.keyRing,
		auditSink:         builder.auditSink,
		transport:         builder.transport,
		rateLimitPolicy:   builder.rateLimitPolicy,
		jobEnqueuer:       builder.jobEnqueuer,
		nowFn:             builder.nowFn,
		sleepFn:           builder.sleepFn,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() *BrokerRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		StateStore:        s.stateStore,
		ConnectionLocker:  s.connectionLocker,
		Registry:          s.registry,
		TokenStore:        s.tokenStore,
		ConnectionStore:   s.connectionStore,
		Vault:             s.vault,
		KeyRing:           s.keyRing,
		AuditSink:         s.auditSink,
		Transport:         s.transport,
		RateLimitPolicy:   s.rateLimitPolicy,
		JobEnqueuer:       s.jobEnqueuer,
	}
}

// NewAdapter builds a broker adapter bound to the user. Access tokens and API
// credentials are resolved lazily through the service.
func (s *Service) NewAdapter(brokerKey string, identity Identity, env Environment) (BrokerAdapter, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, NewAuthenticationRequired("")
	}
	descriptor, err := s.resolveBroker(brokerKey)
	if err != nil {
		return nil, err
	}
	if s.transport == nil {
		return nil, NewConfigurationError("transport is not configured", map[string]any{"broker_key": descriptor.ID})
	}
	if cfg, ok := s.config.Broker(descriptor.ID); ok && cfg.Sandbox {
		env.Sandbox = true
	}

	logger := s.logger
	if s.loggerProvider != nil {
		if named := s.loggerProvider.GetLogger("tradeexec.brokers." + descriptor.ID); named != nil {
			logger = named
		}
	}
	adapter, err := descriptor.Factory(identity, env, AdapterDependencies{
		Tokens:       s,
		Credentials:  s,
		Transport:    s.transport,
		RateLimit:    s.rateLimitPolicy,
		Logger:       glog.Ensure(logger),
		Tracker:      NewStatusTracker(),
		TrailPercent: s.config.Trading.DefaultTrailPercent,
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return adapter, nil
}

func (s *Service) resolveBroker(brokerKey string) (BrokerDescriptor, error) {
	key := normalizeBrokerKey(brokerKey)
	if key == "" {
		return BrokerDescriptor{}, NewConfigurationError("broker key is required")
	}
	descriptor, ok := s.registry.Get(key)
	if !ok {
		return BrokerDescriptor{}, NewConfigurationError("broker is not registered: "+key, map[string]any{"broker_key": key})
	}
	return descriptor, nil
}

func (s *Service) resolveOAuthBroker(brokerKey string) (BrokerDescriptor, error) {
	descriptor, err := s.resolveBroker(brokerKey)
	if err != nil {
		return BrokerDescriptor{}, err
	}
	if descriptor.AuthKind != AuthKindOAuth2 || descriptor.OAuth == nil {
		return BrokerDescriptor{}, NewConfigurationError("broker does not support oauth2: "+descriptor.ID, map[string]any{"broker_key": descriptor.ID})
	}
	return descriptor, nil
}

// sealSecret encrypts with the active key and stamps its version.
func (s *Service) sealSecret(plaintext string) (EncryptedValue, error) {
	if s.vault == nil || s.keyRing == nil {
		return EncryptedValue{}, NewConfigurationError("token vault is not configured")
	}
	version, key, err := s.keyRing.ActiveKey()
	if err != nil {
		return EncryptedValue{}, err
	}
	value, err := s.vault.Encrypt([]byte(plaintext), key)
	if err != nil {
		return EncryptedValue{}, err
	}
	value.KeyVersion = version
	return value, nil
}

func (s *Service) openSecret(value EncryptedValue) (string, error) {
	if s.vault == nil || s.keyRing == nil {
		return "", NewConfigurationError("token vault is not configured")
	}
	var (
		key []byte
		err error
	)
	if value.KeyVersion > 0 {
		key, err = s.keyRing.Key(value.KeyVersion)
	} else {
		_, key, err = s.keyRing.ActiveKey()
	}
	if err != nil {
		return "", err
	}
	plaintext, err := s.vault.Decrypt(value, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
