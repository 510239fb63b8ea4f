package alpaca

import "github.com/chendrizzy/discord-trade-exec-sub002/core"

// Statuses maps Alpaca order states onto canonical statuses.
var Statuses = core.NewStatusMap(map[string]core.OrderStatus{
	"pending_new":          core.OrderStatusPending,
	"accepted_for_bidding": core.OrderStatusPending,
	"suspended":            core.OrderStatusPending,
	"new":                  core.OrderStatusAccepted,
	"accepted":             core.OrderStatusAccepted,
	"held":                 core.OrderStatusAccepted,
	"pending_cancel":       core.OrderStatusAccepted,
	"pending_replace":      core.OrderStatusAccepted,
	"stopped":              core.OrderStatusAccepted,
	"done_for_day":         core.OrderStatusAccepted,
	"partially_filled":     core.OrderStatusPartiallyFilled,
	"filled":               core.OrderStatusFilled,
	"calculated":           core.OrderStatusFilled,
	"canceled":             core.OrderStatusCancelled,
	"replaced":             core.OrderStatusCancelled,
	"rejected":             core.OrderStatusRejected,
	"expired":              core.OrderStatusExpired,
})

// historyStatus picks the coarse Alpaca list filter for a canonical status.
func historyStatus(status core.OrderStatus) string {
	switch status {
	case "":
		return "all"
	case core.OrderStatusPending, core.OrderStatusAccepted, core.OrderStatusPartiallyFilled:
		return "open"
	default:
		return "closed"
	}
}
