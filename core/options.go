package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithAuthorizationStateStore(store AuthorizationStateStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

func WithBrokerRegistry(registry *BrokerRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serviceBuilder) {
		b.tokenStore = store
	}
}

func WithCredentialConnectionStore(store CredentialConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithTokenVault(vault TokenVault) Option {
	return func(b *serviceBuilder) {
		b.vault = vault
	}
}

func WithKeyRing(ring KeyRing) Option {
	return func(b *serviceBuilder) {
		b.keyRing = ring
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(b *serviceBuilder) {
		b.auditSink = sink
	}
}

func WithTransport(transport TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

// WithClock replaces the wall clock used for state ages and token expiry.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = now
	}
}

// WithSleeper replaces the wait used between refresh attempts.
func WithSleeper(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(b *serviceBuilder) {
		b.sleepFn = sleep
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("tradeexec", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewBrokerRegistry(),
		nowFn:           func() time.Time { return time.Now().UTC() },
		sleepFn:         waitWithContext,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw configuration map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	oauth := map[string]any{}
	if includeZero || cfg.OAuth.StateMaxAge > 0 {
		oauth["state_max_age"] = cfg.OAuth.StateMaxAge
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.RedirectURI) != "" {
		oauth["redirect_uri"] = cfg.OAuth.RedirectURI
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	refresh := map[string]any{}
	if includeZero || cfg.Refresh.MaxAttempts > 0 {
		refresh["max_attempts"] = cfg.Refresh.MaxAttempts
	}
	if includeZero || cfg.Refresh.ExpiryLeeway > 0 {
		refresh["expiry_leeway"] = cfg.Refresh.ExpiryLeeway
	}
	if includeZero || cfg.Refresh.LockTTL > 0 {
		refresh["lock_ttl"] = cfg.Refresh.LockTTL
	}
	if includeZero || cfg.Refresh.ScheduleWindow > 0 {
		refresh["schedule_window"] = cfg.Refresh.ScheduleWindow
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}

	httpLayer := map[string]any{}
	if includeZero || cfg.HTTP.Timeout > 0 {
		httpLayer["timeout"] = cfg.HTTP.Timeout
	}
	if includeZero || cfg.HTTP.RequestsPerSecond > 0 {
		httpLayer["requests_per_second"] = cfg.HTTP.RequestsPerSecond
	}
	if includeZero || cfg.HTTP.Burst > 0 {
		httpLayer["burst"] = cfg.HTTP.Burst
	}
	if len(httpLayer) > 0 {
		layer["http"] = httpLayer
	}

	if includeZero || cfg.Trading.DefaultTrailPercent > 0 {
		layer["trading"] = map[string]any{
			"default_trail_percent": cfg.Trading.DefaultTrailPercent,
		}
	}
	if includeZero || cfg.Vault.ActiveKeyVersion > 0 {
		layer["vault"] = map[string]any{
			"active_key_version": cfg.Vault.ActiveKeyVersion,
		}
	}

	if includeZero || len(cfg.Brokers) > 0 {
		brokers := make(map[string]any, len(cfg.Brokers))
		for id, broker := range cfg.Brokers {
			brokers[normalizeBrokerKey(id)] = map[string]any{
				"enabled":       broker.Enabled,
				"client_id":     broker.ClientID,
				"client_secret": broker.ClientSecret,
				"redirect_uri":  broker.RedirectURI,
				"scopes":        append([]string(nil), broker.Scopes...),
				"sandbox":       broker.Sandbox,
			}
		}
		layer["brokers"] = brokers
	}
	return layer
}
