package command

import (
	"context"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	GenerateAuthorizationURL(ctx context.Context, brokerKey string, userID string, session core.SessionContext, opts core.AuthorizationOptions) (core.AuthorizationURL, error)
	CompleteAuthorization(ctx context.Context, req core.CallbackRequest, session core.SessionContext) (core.OAuthToken, error)
	Refresh(ctx context.Context, brokerKey string, userID string) (core.OAuthToken, error)
	Disconnect(ctx context.Context, brokerKey string, userID string) error
	ConnectAPIKey(ctx context.Context, req core.ConnectAPIKeyRequest) (core.CredentialConnection, error)
	VerifyConnection(ctx context.Context, brokerKey string, identity core.Identity, env core.Environment) (core.CredentialConnection, error)
	ScheduleExpiringRefreshes(ctx context.Context, window time.Duration) (int, error)
	ReencryptTokens(ctx context.Context) (core.ReencryptResult, error)
}

// AdapterFactory resolves a broker adapter bound to a user. Order commands
// go through it so every call shares the credential lifecycle.
type AdapterFactory interface {
	NewAdapter(brokerKey string, identity core.Identity, env core.Environment) (core.BrokerAdapter, error)
}

type AuthorizeCommand struct {
	service MutatingService
}

func NewAuthorizeCommand(service MutatingService) *AuthorizeCommand {
	return &AuthorizeCommand{service: service}
}

func (c *AuthorizeCommand) Execute(ctx context.Context, msg AuthorizeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.GenerateAuthorizationURL(ctx, msg.BrokerKey, msg.UserID, msg.Session, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request, msg.Session)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.Refresh(ctx, msg.BrokerKey, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.BrokerKey, msg.UserID)
}

type ConnectAPIKeyCommand struct {
	service MutatingService
}

func NewConnectAPIKeyCommand(service MutatingService) *ConnectAPIKeyCommand {
	return &ConnectAPIKeyCommand{service: service}
}

func (c *ConnectAPIKeyCommand) Execute(ctx context.Context, msg ConnectAPIKeyMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.ConnectAPIKey(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type VerifyConnectionCommand struct {
	service MutatingService
}

func NewVerifyConnectionCommand(service MutatingService) *VerifyConnectionCommand {
	return &VerifyConnectionCommand{service: service}
}

func (c *VerifyConnectionCommand) Execute(ctx context.Context, msg VerifyConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.VerifyConnection(ctx, msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ScheduleRefreshesCommand struct {
	service MutatingService
}

func NewScheduleRefreshesCommand(service MutatingService) *ScheduleRefreshesCommand {
	return &ScheduleRefreshesCommand{service: service}
}

func (c *ScheduleRefreshesCommand) Execute(ctx context.Context, msg ScheduleRefreshesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh scheduler is required")
	}
	scheduled, err := c.service.ScheduleExpiringRefreshes(ctx, msg.Window)
	if err != nil {
		return err
	}
	storeResult(ctx, scheduled)
	return nil
}

type ReencryptTokensCommand struct {
	service MutatingService
}

func NewReencryptTokensCommand(service MutatingService) *ReencryptTokensCommand {
	return &ReencryptTokensCommand{service: service}
}

func (c *ReencryptTokensCommand) Execute(ctx context.Context, _ ReencryptTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token vault service is required")
	}
	out, err := c.service.ReencryptTokens(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PlaceOrderCommand struct {
	adapters AdapterFactory
}

func NewPlaceOrderCommand(adapters AdapterFactory) *PlaceOrderCommand {
	return &PlaceOrderCommand{adapters: adapters}
}

func (c *PlaceOrderCommand) Execute(ctx context.Context, msg PlaceOrderMessage) error {
	if c == nil || c.adapters == nil {
		return commandDependencyError("command: broker adapter factory is required")
	}
	adapter, err := c.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return err
	}
	out, err := adapter.CreateOrder(ctx, msg.Spec)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelOrderCommand struct {
	adapters AdapterFactory
}

func NewCancelOrderCommand(adapters AdapterFactory) *CancelOrderCommand {
	return &CancelOrderCommand{adapters: adapters}
}

func (c *CancelOrderCommand) Execute(ctx context.Context, msg CancelOrderMessage) error {
	if c == nil || c.adapters == nil {
		return commandDependencyError("command: broker adapter factory is required")
	}
	adapter, err := c.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return err
	}
	cancelled, err := adapter.CancelOrder(ctx, msg.OrderID)
	if err != nil {
		return err
	}
	storeResult(ctx, cancelled)
	return nil
}

type ProtectiveOrderCommand struct {
	adapters AdapterFactory
}

func NewProtectiveOrderCommand(adapters AdapterFactory) *ProtectiveOrderCommand {
	return &ProtectiveOrderCommand{adapters: adapters}
}

func (c *ProtectiveOrderCommand) Execute(ctx context.Context, msg ProtectiveOrderMessage) error {
	if c == nil || c.adapters == nil {
		return commandDependencyError("command: broker adapter factory is required")
	}
	adapter, err := c.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return err
	}
	var out core.NormalizedOrder
	if msg.TakeProfit {
		out, err = adapter.SetTakeProfit(ctx, msg.Spec)
	} else {
		out, err = adapter.SetStopLoss(ctx, msg.Spec)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
