package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tradeexec "github.com/chendrizzy/discord-trade-exec-sub002"
	"github.com/chendrizzy/discord-trade-exec-sub002/adapters/gocommand"
	"github.com/chendrizzy/discord-trade-exec-sub002/adapters/gojob"
	promadapter "github.com/chendrizzy/discord-trade-exec-sub002/adapters/prometheus"
	"github.com/chendrizzy/discord-trade-exec-sub002/command"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/httpapi"
	"github.com/chendrizzy/discord-trade-exec-sub002/ratelimit"
	"github.com/chendrizzy/discord-trade-exec-sub002/security"
	sqlstore "github.com/chendrizzy/discord-trade-exec-sub002/store/sql"
	"github.com/chendrizzy/discord-trade-exec-sub002/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	EnvMasterKey = "TRADEEXEC_VAULT_MASTER_KEY"
	EnvKeySalt   = "TRADEEXEC_VAULT_KEY_SALT"

	defaultAddr       = ":8080"
	defaultUserHeader = "X-User-ID"
	shutdownTimeout   = 10 * time.Second
	rateLimitCacheTTL = 30 * time.Second
)

type Options struct {
	ConfigPath string
	Addr       string
	// UserHeader names the header the upstream gateway uses to pass the
	// authenticated user id.
	UserHeader string
	// SuccessURL is where the browser lands after a broker is connected.
	SuccessURL string
	LookupEnv  func(string) (string, bool)
	Logger     glog.Logger
}

// App wires the credential service, its stores, the HTTP surface and the
// refresh worker into one process.
type App struct {
	config        core.Config
	addr          string
	successURL    string
	logger        glog.Logger
	service       *core.Service
	router        http.Handler
	queue         *gojob.MemoryQueue
	worker        *gojob.RefreshWorker
	metrics       *prom.Registry
	client        *persistence.Client
	subscriptions []commanddispatcher.Subscription
}

func LoadConfig(ctx context.Context, path string) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(core.NewFileConfigLoader(path))
	return provider.Load(ctx, core.DefaultConfig())
}

func New(ctx context.Context, opts Options) (*App, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = defaultAddr
	}
	if strings.TrimSpace(opts.UserHeader) == "" {
		opts.UserHeader = defaultUserHeader
	}
	_, logger := glog.Resolve("tradeexec.app", nil, opts.Logger)
	logger = glog.Ensure(logger)

	cfg, err := LoadConfig(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	ring, err := buildKeyRing(cfg.Vault, opts.LookupEnv)
	if err != nil {
		return nil, err
	}
	registry, err := tradeexec.NewBrokerRegistry(cfg, tradeexec.BrokerOptions{})
	if err != nil {
		return nil, err
	}

	a := &App{
		config:     cfg,
		addr:       opts.Addr,
		successURL: opts.SuccessURL,
		logger:     logger,
		queue:      gojob.NewMemoryQueue(),
		metrics:    prom.NewRegistry(),
	}

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithBrokerRegistry(registry),
		core.WithTokenVault(security.NewAESGCMVault()),
		core.WithKeyRing(ring),
		core.WithMetricsRecorder(promadapter.NewRecorder(a.metrics, promadapter.Options{})),
		core.WithJobEnqueuer(gojob.NewRefreshEnqueuer(a.queue)),
	}

	var rateStore ratelimit.StateStore = ratelimit.NewMemoryStateStore()
	if strings.TrimSpace(cfg.Database.DSN) != "" {
		a.client, err = sqlstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(a.client)
		if err != nil {
			a.Close()
			return nil, err
		}
		serviceOpts = append(serviceOpts,
			core.WithPersistenceClient(a.client),
			core.WithRepositoryFactory(factory),
		)
		rateStore, err = cachedRateLimitStore(factory)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("database dsn not set, credentials are kept in memory")
		serviceOpts = append(serviceOpts,
			core.WithTokenStore(core.NewMemoryTokenStore()),
			core.WithCredentialConnectionStore(core.NewMemoryCredentialConnectionStore()),
		)
	}

	policy := ratelimit.NewAdaptivePolicy(rateStore)
	outbound, err := transport.NewDefaultRegistry().Build(transport.KindThrottled, map[string]any{
		"requests_per_second": cfg.HTTP.RequestsPerSecond,
		"burst":               cfg.HTTP.Burst,
		"policy":              policy,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	serviceOpts = append(serviceOpts,
		core.WithRateLimitPolicy(policy),
		core.WithTransport(outbound),
	)

	a.service, err = tradeexec.NewService(cfg, serviceOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.subscriptions, err = gocommand.RegisterCredentialHandlers(gocommand.NewRegistry(gocmd.NewRegistry()), gocommand.HandlerDependencies{Service: a.service})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.worker = gojob.NewRefreshWorker(a.queue, a.service, gojob.RefreshWorkerConfig{
		Policy: gojob.RetryPolicy{MaxAttempts: cfg.Refresh.MaxAttempts, MaxDelay: 5 * time.Minute, DeadLetterOnMax: true},
		Hook:   gojob.NewLoggingHook(logger),
		Logger: logger,
	})
	a.router = a.buildRouter(opts.UserHeader)
	return a, nil
}

func (a *App) buildRouter(userHeader string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	oauth := httpapi.NewHandler(a.service, httpapi.Config{
		Users:      httpapi.HeaderUser(userHeader),
		SuccessURL: a.successURL,
		Logger:     a.logger,
	})
	oauth.Mount(r)

	r.Handle("/metrics", promadapter.Handler(a.metrics))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (a *App) Router() http.Handler { return a.router }

func (a *App) Service() *core.Service { return a.service }

// Run serves HTTP, drains refresh jobs and schedules refreshes for tokens
// nearing expiry until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.logger.Info("http server listening", "addr", a.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error { return a.worker.Run(ctx) })
	group.Go(func() error { return a.scheduleLoop(ctx) })
	return group.Wait()
}

func (a *App) scheduleLoop(ctx context.Context) error {
	window := a.config.Refresh.ScheduleWindow
	interval := window / 3
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.ScheduleRefreshes(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("refresh scheduling failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) ScheduleRefreshes(ctx context.Context) (int, error) {
	result := gocmd.NewResult[int]()
	err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, result), command.ScheduleRefreshesMessage{Window: a.config.Refresh.ScheduleWindow})
	if err != nil {
		return 0, err
	}
	scheduled, _ := result.Load()
	return scheduled, nil
}

// DrainRefreshes processes queued refresh jobs until none is ready and
// reports how many were handled.
func (a *App) DrainRefreshes(ctx context.Context) (int, error) {
	handled := 0
	for {
		processed, err := a.worker.ProcessNext(ctx)
		if err != nil {
			return handled, err
		}
		if !processed {
			return handled, nil
		}
		handled++
	}
}

func (a *App) ReencryptTokens(ctx context.Context) (core.ReencryptResult, error) {
	result := gocmd.NewResult[core.ReencryptResult]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, result), command.ReencryptTokensMessage{}); err != nil {
		return core.ReencryptResult{}, err
	}
	out, _ := result.Load()
	return out, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	for _, subscription := range a.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	a.subscriptions = nil
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("close persistence client", "error", err.Error())
		}
		a.client = nil
	}
}

// buildKeyRing derives every key version up to the active one from a single
// master secret, so bumping vault.active_key_version rotates keys without
// losing access to older ciphertext.
func buildKeyRing(cfg core.VaultConfig, lookup func(string) (string, bool)) (*security.KeyRing, error) {
	master, ok := lookup(EnvMasterKey)
	if !ok || len(master) < security.KeySize {
		return nil, core.NewConfigurationError(fmt.Sprintf("%s must hold at least %d bytes", EnvMasterKey, security.KeySize))
	}
	salt, _ := lookup(EnvKeySalt)
	active := cfg.ActiveKeyVersion
	if active <= 0 {
		active = 1
	}
	opts := make([]security.KeyRingOption, 0, active)
	for version := 1; version <= active; version++ {
		opts = append(opts, security.WithDerivedKey(version, []byte(master), []byte(salt)))
	}
	return security.NewKeyRing(active, opts...)
}

func cachedRateLimitStore(factory *sqlstore.RepositoryFactory) (ratelimit.StateStore, error) {
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = rateLimitCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("app: rate-limit cache: %w", err)
	}
	return sqlstore.NewCachedRateLimitStateStore(factory.RateLimitStateStore(), cacheService)
}
