package tradeexec

import (
	"fmt"
	"sort"

	"github.com/chendrizzy/discord-trade-exec-sub002/brokers/alpaca"
	"github.com/chendrizzy/discord-trade-exec-sub002/brokers/schwab"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/providers"
	"github.com/chendrizzy/discord-trade-exec-sub002/ratelimit"
	"github.com/chendrizzy/discord-trade-exec-sub002/transport"
)

// BrokerOptions carries endpoint and client overrides for the bundled
// brokers. Zero values select the production endpoints.
type BrokerOptions struct {
	OAuth  providers.BrokerOAuthOptions
	Alpaca alpaca.Options
	Schwab schwab.Options
}

// AlpacaDescriptor describes Alpaca. With alpaca.AuthModeAPIKey the broker is
// registered as an API key broker and no OAuth provider is built.
func AlpacaDescriptor(cfg core.BrokerConfig, opts BrokerOptions) (core.BrokerDescriptor, error) {
	descriptor := core.BrokerDescriptor{
		ID:          providers.AlpacaProviderID,
		DisplayName: "Alpaca",
		Factory:     alpaca.NewFactory(opts.Alpaca),
	}
	if opts.Alpaca.AuthMode == alpaca.AuthModeAPIKey {
		descriptor.AuthKind = core.AuthKindAPIKey
		return descriptor, nil
	}
	provider, err := providers.NewAlpacaOAuth(cfg, opts.OAuth)
	if err != nil {
		return core.BrokerDescriptor{}, err
	}
	descriptor.AuthKind = core.AuthKindOAuth2
	descriptor.OAuth = provider
	return descriptor, nil
}

func SchwabDescriptor(cfg core.BrokerConfig, opts BrokerOptions) (core.BrokerDescriptor, error) {
	provider, err := providers.NewSchwabOAuth(cfg, opts.OAuth)
	if err != nil {
		return core.BrokerDescriptor{}, err
	}
	return core.BrokerDescriptor{
		ID:          providers.SchwabProviderID,
		DisplayName: "Charles Schwab",
		AuthKind:    core.AuthKindOAuth2,
		OAuth:       provider,
		Factory:     schwab.NewFactory(opts.Schwab),
	}, nil
}

type descriptorBuilder func(core.BrokerConfig, BrokerOptions) (core.BrokerDescriptor, error)

var bundledBrokers = map[string]descriptorBuilder{
	providers.AlpacaProviderID: AlpacaDescriptor,
	providers.SchwabProviderID: SchwabDescriptor,
}

// NewBrokerRegistry registers every enabled broker block of cfg. Unknown
// broker ids are reported instead of ignored.
func NewBrokerRegistry(cfg Config, opts BrokerOptions) (*core.BrokerRegistry, error) {
	registry := core.NewBrokerRegistry()
	keys := make([]string, 0, len(cfg.Brokers))
	for key := range cfg.Brokers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		brokerCfg := cfg.Brokers[key]
		if !brokerCfg.Enabled {
			continue
		}
		build, ok := bundledBrokers[key]
		if !ok {
			return nil, fmt.Errorf("tradeexec: unknown broker %q", key)
		}
		descriptor, err := build(brokerCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("tradeexec: build broker %s: %w", key, err)
		}
		if err := registry.Register(descriptor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewThrottledTransport wraps the REST adapter with per-broker pacing and an
// adaptive policy over in-memory state. The policy is returned so callers can
// hand the same instance to the service.
func NewThrottledTransport(cfg core.HTTPConfig, client transport.HTTPDoer) (*transport.ThrottledAdapter, *ratelimit.AdaptivePolicy) {
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	return transport.NewThrottledAdapter(transport.NewRESTAdapter(client), ratelimit.NewBudgets(cfg), policy), policy
}
