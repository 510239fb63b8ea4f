package query

import (
	"strings"

	"github.com/chendrizzy/discord-trade-exec-sub002/brokers"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

const (
	TypeTokenStatus      = "tradeexec.query.token.status"
	TypeConnectionStatus = "tradeexec.query.connection.status"
	TypeListBrokers      = "tradeexec.query.brokers.list"
	TypeOrderHistory     = "tradeexec.query.order.history"
	TypeMarketPrice      = "tradeexec.query.market.price"
	TypePositions        = "tradeexec.query.account.positions"
)

type TokenStatusMessage struct {
	BrokerKey string
	UserID    string
}

func (TokenStatusMessage) Type() string { return TypeTokenStatus }

func (m TokenStatusMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.UserID)
}

type ConnectionStatusMessage struct {
	BrokerKey string
	UserID    string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.UserID)
}

type ListBrokersMessage struct {
	// AuthKind narrows the listing when set.
	AuthKind core.AuthKind
}

func (ListBrokersMessage) Type() string { return TypeListBrokers }

func (m ListBrokersMessage) Validate() error {
	switch m.AuthKind {
	case "", core.AuthKindOAuth2, core.AuthKindAPIKey:
		return nil
	default:
		return queryValidationError("auth_kind", "auth kind must be oauth2 or api_key")
	}
}

type OrderHistoryMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
	Filter      core.OrderHistoryFilter
}

func (OrderHistoryMessage) Type() string { return TypeOrderHistory }

func (m OrderHistoryMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.Identity.UserID); err != nil {
		return err
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.From != nil && m.Filter.To != nil && m.Filter.To.Before(*m.Filter.From) {
		return queryValidationError("to", "to must not be before from")
	}
	return nil
}

type MarketPriceMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
	Symbol      string
}

func (MarketPriceMessage) Type() string { return TypeMarketPrice }

func (m MarketPriceMessage) Validate() error {
	if err := requireBrokerAndUser(m.BrokerKey, m.Identity.UserID); err != nil {
		return err
	}
	if brokers.NormalizeSymbol(m.Symbol) == "" {
		return queryValidationError("symbol", "symbol is required")
	}
	return nil
}

type PositionsMessage struct {
	BrokerKey   string
	Identity    core.Identity
	Environment core.Environment
}

func (PositionsMessage) Type() string { return TypePositions }

func (m PositionsMessage) Validate() error {
	return requireBrokerAndUser(m.BrokerKey, m.Identity.UserID)
}

func requireBrokerAndUser(brokerKey string, userID string) error {
	if strings.TrimSpace(brokerKey) == "" {
		return queryValidationError("broker_key", "broker key is required")
	}
	if strings.TrimSpace(userID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}
