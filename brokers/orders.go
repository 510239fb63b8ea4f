package brokers

import (
	"strings"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/shopspring/decimal"
)

// TrailPercent resolves the trail for a trailing protective order: the
// order's own value, then the configured default, then the package default.
func TrailPercent(spec core.ProtectiveOrderSpec, configured float64) decimal.Decimal {
	if spec.TrailPercent != nil && spec.TrailPercent.IsPositive() {
		return *spec.TrailPercent
	}
	if configured > 0 {
		return decimal.NewFromFloat(configured)
	}
	return core.DefaultTrailPercent
}

// ExitSide is the side that closes a position opened with side.
func ExitSide(side core.OrderSide) core.OrderSide {
	if side == core.OrderSideSell {
		return core.OrderSideBuy
	}
	return core.OrderSideSell
}

func ValidateOrderSpec(spec core.OrderSpec) error {
	fields := map[string]any{}
	if NormalizeSymbol(spec.Symbol) == "" {
		fields["symbol"] = "required"
	}
	if !spec.Quantity.IsPositive() {
		fields["quantity"] = "must be positive"
	}
	switch spec.Side {
	case core.OrderSideBuy, core.OrderSideSell:
	default:
		fields["side"] = "must be BUY or SELL"
	}
	switch spec.Type {
	case core.OrderTypeLimit, core.OrderTypeStopLimit:
		if spec.LimitPrice == nil {
			fields["limit_price"] = "required for " + strings.ToLower(string(spec.Type)) + " orders"
		}
	}
	switch spec.Type {
	case core.OrderTypeStop, core.OrderTypeStopLimit:
		if spec.StopPrice == nil {
			fields["stop_price"] = "required for " + strings.ToLower(string(spec.Type)) + " orders"
		}
	}
	if len(fields) > 0 {
		return core.NewOrderError("invalid order specification", fields)
	}
	return nil
}

func DecimalPtr(value decimal.Decimal) *decimal.Decimal {
	return &value
}

// ValidateProtectiveSpec checks a stop-loss or take-profit request. The
// trigger is only required when the order has no other price to work from.
func ValidateProtectiveSpec(spec core.ProtectiveOrderSpec, needsTrigger bool) error {
	fields := map[string]any{}
	if NormalizeSymbol(spec.Symbol) == "" {
		fields["symbol"] = "required"
	}
	if !spec.Quantity.IsPositive() {
		fields["quantity"] = "must be positive"
	}
	if needsTrigger && !spec.TriggerPrice.IsPositive() {
		fields["trigger_price"] = "must be positive"
	}
	if len(fields) > 0 {
		return core.NewOrderError("invalid protective order", fields)
	}
	return nil
}

// ProtectiveSide defaults a protective order to SELL, closing a long.
func ProtectiveSide(side core.OrderSide) core.OrderSide {
	if side == "" {
		return core.OrderSideSell
	}
	return side
}

func TimeInForceOr(value core.TimeInForce, fallback core.TimeInForce) core.TimeInForce {
	if value == "" {
		return fallback
	}
	return value
}
