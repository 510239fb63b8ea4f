package schwab

import "github.com/chendrizzy/discord-trade-exec-sub002/core"

// Statuses maps Schwab trader API order states onto canonical statuses.
// WORKING stays PENDING until a fill is reported; see normalize.
var Statuses = core.NewStatusMap(map[string]core.OrderStatus{
	"AWAITING_PARENT_ORDER":   core.OrderStatusPending,
	"AWAITING_CONDITION":      core.OrderStatusPending,
	"AWAITING_STOP_CONDITION": core.OrderStatusPending,
	"AWAITING_MANUAL_REVIEW":  core.OrderStatusPending,
	"AWAITING_UR_OUT":         core.OrderStatusPending,
	"AWAITING_RELEASE_TIME":   core.OrderStatusPending,
	"PENDING_ACTIVATION":      core.OrderStatusPending,
	"PENDING_ACKNOWLEDGEMENT": core.OrderStatusPending,
	"PENDING_RECALL":          core.OrderStatusPending,
	"PENDING_CANCEL":          core.OrderStatusPending,
	"PENDING_REPLACE":         core.OrderStatusPending,
	"QUEUED":                  core.OrderStatusPending,
	"NEW":                     core.OrderStatusPending,
	"WORKING":                 core.OrderStatusPending,
	"ACCEPTED":                core.OrderStatusAccepted,
	"FILLED":                  core.OrderStatusFilled,
	"CANCELED":                core.OrderStatusCancelled,
	"REPLACED":                core.OrderStatusCancelled,
	"REJECTED":                core.OrderStatusRejected,
	"EXPIRED":                 core.OrderStatusExpired,
})
