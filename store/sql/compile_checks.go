package sqlstore

import (
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/ratelimit"
)

var (
	_ core.TokenStore                = (*TokenStore)(nil)
	_ core.CredentialConnectionStore = (*ConnectionStore)(nil)
	_ core.AuthorizationStateStore   = (*AuthorizationStateStore)(nil)
	_ core.StoreProvider             = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory    = (*RepositoryFactory)(nil)
	_ ratelimit.StateStore           = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore           = (*CachedRateLimitStateStore)(nil)
)
