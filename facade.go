package tradeexec

import (
	"fmt"

	"github.com/chendrizzy/discord-trade-exec-sub002/command"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/query"
)

type Commands struct {
	Authorize             *command.AuthorizeCommand
	CompleteAuthorization *command.CompleteAuthorizationCommand
	RefreshToken          *command.RefreshTokenCommand
	Disconnect            *command.DisconnectCommand
	ConnectAPIKey         *command.ConnectAPIKeyCommand
	VerifyConnection      *command.VerifyConnectionCommand
	ScheduleRefreshes     *command.ScheduleRefreshesCommand
	ReencryptTokens       *command.ReencryptTokensCommand
	PlaceOrder            *command.PlaceOrderCommand
	CancelOrder           *command.CancelOrderCommand
	ProtectiveOrder       *command.ProtectiveOrderCommand
}

type Queries struct {
	TokenStatus      *query.TokenStatusQuery
	ConnectionStatus *query.ConnectionStatusQuery
	ListBrokers      *query.ListBrokersQuery
	OrderHistory     *query.OrderHistoryQuery
	MarketPrice      *query.MarketPriceQuery
	Positions        *query.PositionsQuery
}

// Facade bundles the command and query handlers built over one credential
// service.
type Facade struct {
	service  core.CredentialService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	tokens      query.TokenReader
	connections query.ConnectionReader
	brokers     query.BrokerLister
}

func WithTokenReader(reader query.TokenReader) FacadeOption {
	return func(options *facadeOptions) {
		options.tokens = reader
	}
}

func WithConnectionReader(reader query.ConnectionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.connections = reader
	}
}

func WithBrokerLister(lister query.BrokerLister) FacadeOption {
	return func(options *facadeOptions) {
		options.brokers = lister
	}
}

// NewFacade builds the handlers. Readers that are not supplied are taken
// from the service stores when service is a *core.Service.
func NewFacade(service core.CredentialService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("tradeexec: credential service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	resolveReaders(service, &cfg)

	facade := &Facade{service: service}
	facade.commands = Commands{
		Authorize:             command.NewAuthorizeCommand(service),
		CompleteAuthorization: command.NewCompleteAuthorizationCommand(service),
		RefreshToken:          command.NewRefreshTokenCommand(service),
		Disconnect:            command.NewDisconnectCommand(service),
		ConnectAPIKey:         command.NewConnectAPIKeyCommand(service),
		VerifyConnection:      command.NewVerifyConnectionCommand(service),
		ScheduleRefreshes:     command.NewScheduleRefreshesCommand(service),
		ReencryptTokens:       command.NewReencryptTokensCommand(service),
		PlaceOrder:            command.NewPlaceOrderCommand(service),
		CancelOrder:           command.NewCancelOrderCommand(service),
		ProtectiveOrder:       command.NewProtectiveOrderCommand(service),
	}
	facade.queries = Queries{
		TokenStatus:      query.NewTokenStatusQuery(cfg.tokens),
		ConnectionStatus: query.NewConnectionStatusQuery(cfg.connections),
		ListBrokers:      query.NewListBrokersQuery(cfg.brokers),
		OrderHistory:     query.NewOrderHistoryQuery(service),
		MarketPrice:      query.NewMarketPriceQuery(service),
		Positions:        query.NewPositionsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() core.CredentialService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveReaders(service core.CredentialService, cfg *facadeOptions) {
	concrete, ok := service.(*core.Service)
	if !ok || concrete == nil {
		return
	}
	deps := concrete.Dependencies()
	if cfg.tokens == nil && deps.TokenStore != nil {
		cfg.tokens = deps.TokenStore
	}
	if cfg.connections == nil && deps.ConnectionStore != nil {
		cfg.connections = deps.ConnectionStore
	}
	if cfg.brokers == nil && concrete.Registry() != nil {
		cfg.brokers = concrete.Registry()
	}
}
