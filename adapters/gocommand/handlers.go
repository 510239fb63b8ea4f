package gocommand

import (
	"fmt"

	"github.com/chendrizzy/discord-trade-exec-sub002/command"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// HandlerDependencies are the read and write sides the credential handlers
// are built from. Tokens, Connections and Brokers fall back to what Service
// exposes when it is a *core.Service.
type HandlerDependencies struct {
	Service     core.CredentialService
	Tokens      query.TokenReader
	Connections query.ConnectionReader
	Brokers     query.BrokerLister
}

// RegisterCredentialHandlers registers every credential and order command and
// query with the registry and subscribes them on the dispatcher. The caller
// owns the returned subscriptions.
func RegisterCredentialHandlers(
	registry *Registry,
	deps HandlerDependencies,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("gocommand: credential service is required")
	}
	deps = resolveHandlerDependencies(deps)

	subscriptions := make([]commanddispatcher.Subscription, 0, 17)
	register := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}
	unsubscribeAll := func() {
		for _, subscription := range subscriptions {
			if subscription != nil {
				subscription.Unsubscribe()
			}
		}
	}

	svc := deps.Service
	steps := []func() error{
		func() error {
			return register(Subscribe(registry, command.NewAuthorizeCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewCompleteAuthorizationCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewRefreshTokenCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewDisconnectCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewConnectAPIKeyCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewVerifyConnectionCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewScheduleRefreshesCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewReencryptTokensCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewPlaceOrderCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewCancelOrderCommand(svc), runnerOpts...))
		},
		func() error {
			return register(Subscribe(registry, command.NewProtectiveOrderCommand(svc), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewTokenStatusQuery(deps.Tokens), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewConnectionStatusQuery(deps.Connections), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewListBrokersQuery(deps.Brokers), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewOrderHistoryQuery(svc), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewMarketPriceQuery(svc), runnerOpts...))
		},
		func() error {
			return register(SubscribeQuery(registry, query.NewPositionsQuery(svc), runnerOpts...))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			unsubscribeAll()
			return nil, err
		}
	}
	return subscriptions, nil
}

func resolveHandlerDependencies(deps HandlerDependencies) HandlerDependencies {
	service, ok := deps.Service.(*core.Service)
	if !ok || service == nil {
		return deps
	}
	stores := service.Dependencies()
	if deps.Tokens == nil && stores.TokenStore != nil {
		deps.Tokens = stores.TokenStore
	}
	if deps.Connections == nil && stores.ConnectionStore != nil {
		deps.Connections = stores.ConnectionStore
	}
	if deps.Brokers == nil && service.Registry() != nil {
		deps.Brokers = service.Registry()
	}
	return deps
}
