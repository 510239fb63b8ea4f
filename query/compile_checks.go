package query

import (
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[TokenStatusMessage, TokenStatus]             = (*TokenStatusQuery)(nil)
	_ gocmd.Querier[ConnectionStatusMessage, ConnectionView]     = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[ListBrokersMessage, []BrokerSummary]         = (*ListBrokersQuery)(nil)
	_ gocmd.Querier[OrderHistoryMessage, []core.NormalizedOrder] = (*OrderHistoryQuery)(nil)
	_ gocmd.Querier[MarketPriceMessage, core.MarketPrice]        = (*MarketPriceQuery)(nil)
	_ gocmd.Querier[PositionsMessage, []core.NormalizedPosition] = (*PositionsQuery)(nil)

	_ TokenReader      = core.TokenStore(nil)
	_ ConnectionReader = core.CredentialConnectionStore(nil)
	_ BrokerLister     = (*core.BrokerRegistry)(nil)
	_ AdapterFactory   = core.CredentialService(nil)
)
