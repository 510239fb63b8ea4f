package command

import (
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/brokers"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

const (
	TypeAuthorize             = "tradeexec.command.oauth.authorize"
	TypeCompleteAuthorization = "tradeexec.command.oauth.complete"
	TypeRefreshToken          = "tradeexec.command.token.refresh"
	TypeDisconnect            = "tradeexec.command.token.disconnect"
	TypeConnectAPIKey         = "tradeexec.command.connection.connect"
	TypeVerifyConnection      = "tradeexec.command.connection.verify"
	TypeScheduleRefreshes     = "tradeexec.command.refresh.schedule"
	TypeReencryptTokens       = "tradeexec.command.vault.reencrypt"
	TypePlaceOrder            = "tradeexec.command.order.place"
	TypeCancelOrder           = "tradeexec.command.order.cancel"
	TypeSetStopLoss           = "tradeexec.command.order.stop_loss"
	TypeSetTakeProfit         = "tradeexec.command.order.take_profit"
)

type AuthorizeMessage struct {
	BrokerKey string
	UserID    string
	Session   core.SessionContext
	Options   core.AuthorizationOptions
}

func (AuthorizeMessage) Type() string { return TypeAuthorize }

func (m AuthorizeMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Session.ID) == "" {
		return commandValidationError("session_id", "session id is required")
	}
	return nil
}

type CompleteAuthorizationMessage struct {
	Request core.CallbackRequest
	Session core.SessionContext
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Session.ID) == "" {
		return commandValidationError("session_id", "session id is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	// A provider-side denial carries an error instead of a code.
	if strings.TrimSpace(m.Request.Code) == "" && strings.TrimSpace(m.Request.Error) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type RefreshTokenMessage struct {
	BrokerKey string
	UserID    string
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.UserID)
}

type DisconnectMessage struct {
	BrokerKey string
	UserID    string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.UserID)
}

type ConnectAPIKeyMessage struct {
	Request core.ConnectAPIKeyRequest
}

func (ConnectAPIKeyMessage) Type() string { return TypeConnectAPIKey }

func (m ConnectAPIKeyMessage) Validate() error {
	if err := requireBrokerAndUser(m.Request.BrokerKey, m.Request.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.KeyID) == "" {
		return commandValidationError("key_id", "api key id is required")
	}
	if strings.TrimSpace(m.Request.Secret) == "" {
		return commandValidationError("secret", "api secret is required")
	}
	return nil
}

type VerifyConnectionMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
}

func (VerifyConnectionMessage) Type() string { return TypeVerifyConnection }

func (m VerifyConnectionMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.Identity.UserID)
}

// ScheduleRefreshesMessage enqueues refresh jobs for tokens expiring within
// Window. A zero window uses the configured schedule window.
type ScheduleRefreshesMessage struct {
	Window time.Duration
}

func (ScheduleRefreshesMessage) Type() string { return TypeScheduleRefreshes }

func (m ScheduleRefreshesMessage) Validate() error {
	if m.Window < 0 {
		return commandValidationError("window", "window must not be negative")
	}
	return nil
}

type ReencryptTokensMessage struct{}

func (ReencryptTokensMessage) Type() string { return TypeReencryptTokens }

func (ReencryptTokensMessage) Validate() error { return nil }

type PlaceOrderMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
	Spec        core.OrderSpec
}

func (PlaceOrderMessage) Type() string { return TypePlaceOrder }

func (m PlaceOrderMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.Identity.UserID); err != nil {
		return err
	}
	return commandWrapValidation(brokers.ValidateOrderSpec(m.Spec), "command: invalid order")
}

type CancelOrderMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
	OrderID     string
}

func (CancelOrderMessage) Type() string { return TypeCancelOrder }

func (m CancelOrderMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.Identity.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return commandValidationError("order_id", "order id is required")
	}
	return nil
}

// ProtectiveOrderMessage attaches a stop-loss or take-profit order to an
// open position.
type ProtectiveOrderMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
	Spec        core.ProtectiveOrderSpec
	TakeProfit  bool
}

func (m ProtectiveOrderMessage) Type() string {
	if m.TakeProfit {
		return TypeSetTakeProfit
	}
	return TypeSetStopLoss
}

func (m ProtectiveOrderMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.Identity.UserID); err != nil {
		return err
	}
	needsTrigger := !m.Spec.Trailing
	if m.TakeProfit {
		needsTrigger = m.Spec.LimitPrice == nil
	}
	return commandWrapValidation(brokers.ValidateProtectiveSpec(m.Spec, needsTrigger), "command: invalid protective order")
}

func requireBrokerAndUser(brokerKey string, userID string) error {
	if strings.TrimSpace(brokerKey) == "" {
		return commandValidationError("broker_key", "broker key is required")
	}
	if strings.TrimSpace(userID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}
