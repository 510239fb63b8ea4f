package command

import (
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[AuthorizeMessage]             = (*AuthorizeCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]          = (*RefreshTokenCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
	_ gocmd.Commander[ConnectAPIKeyMessage]         = (*ConnectAPIKeyCommand)(nil)
	_ gocmd.Commander[VerifyConnectionMessage]      = (*VerifyConnectionCommand)(nil)
	_ gocmd.Commander[ScheduleRefreshesMessage]     = (*ScheduleRefreshesCommand)(nil)
	_ gocmd.Commander[ReencryptTokensMessage]       = (*ReencryptTokensCommand)(nil)
	_ gocmd.Commander[PlaceOrderMessage]            = (*PlaceOrderCommand)(nil)
	_ gocmd.Commander[CancelOrderMessage]           = (*CancelOrderCommand)(nil)
	_ gocmd.Commander[ProtectiveOrderMessage]       = (*ProtectiveOrderCommand)(nil)

	_ MutatingService = core.CredentialService(nil)
	_ AdapterFactory  = core.CredentialService(nil)
)
