package brokers

import (
	"context"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Preview is what a broker answers before the order is committed.
type Preview struct {
	ID       string
	Spec     core.OrderSpec
	Metadata map[string]any
}

// TwoPhaseOrder places orders on brokers that require a preview first. When
// placement fails ambiguously it looks for the order and cancels it, so a
// reported failure never leaves a live order behind.
type TwoPhaseOrder struct {
	BrokerKey string
	Preview   func(ctx context.Context, spec core.OrderSpec) (Preview, error)
	Place     func(ctx context.Context, preview Preview) (core.NormalizedOrder, error)
	// Reconcile finds an order created by a failed Place, if any.
	Reconcile func(ctx context.Context, preview Preview) (core.NormalizedOrder, bool, error)
	Cancel    func(ctx context.Context, orderID string) (bool, error)
	Logger    core.Logger
}

func (o TwoPhaseOrder) Execute(ctx context.Context, spec core.OrderSpec) (core.NormalizedOrder, error) {
	if o.Preview == nil || o.Place == nil {
		return core.NormalizedOrder{}, core.NewConfigurationError("brokers: two phase order requires preview and place")
	}
	logger := glog.Ensure(o.Logger)

	preview, err := o.Preview(ctx, spec)
	if err != nil {
		return core.NormalizedOrder{}, err
	}
	order, placeErr := o.Place(ctx, preview)
	if placeErr == nil {
		return order, nil
	}
	if core.IsOrderError(placeErr) || core.IsAuthenticationExpired(placeErr) || o.Reconcile == nil {
		return core.NormalizedOrder{}, placeErr
	}

	found, ok, reconcileErr := o.Reconcile(ctx, preview)
	if reconcileErr != nil {
		logger.Error("order reconcile failed", "broker_key", o.BrokerKey, "preview_id", preview.ID, "error", reconcileErr.Error())
		return core.NormalizedOrder{}, compensationError(placeErr, "reconcile_failed", preview)
	}
	if !ok {
		return core.NormalizedOrder{}, placeErr
	}
	if found.Status.IsTerminal() {
		// the order already completed at the broker, report what happened
		logger.Info("order placed despite error", "broker_key", o.BrokerKey, "order_id", found.ID, "status", string(found.Status))
		return found, nil
	}
	if o.Cancel == nil {
		return core.NormalizedOrder{}, compensationError(placeErr, "cancel_unavailable", preview)
	}
	if _, cancelErr := o.Cancel(ctx, found.ID); cancelErr != nil {
		logger.Error("order compensation failed", "broker_key", o.BrokerKey, "order_id", found.ID, "error", cancelErr.Error())
		return core.NormalizedOrder{}, compensationError(placeErr, "cancel_failed", preview).
			WithMetadata(map[string]any{"order_id": found.ID})
	}
	logger.Info("order compensated", "broker_key", o.BrokerKey, "order_id", found.ID)
	return core.NormalizedOrder{}, compensationError(placeErr, "cancelled", preview).
		WithMetadata(map[string]any{"order_id": found.ID})
}

func compensationError(cause error, outcome string, preview Preview) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryOperation, "brokers: order placement failed").
		WithTextCode(core.ErrorBrokerOperationFailed).
		WithMetadata(map[string]any{
			"compensation": outcome,
			"preview_id":   preview.ID,
		})
	if outcome != "cancelled" {
		err = err.WithSeverity(goerrors.SeverityCritical)
	}
	return err
}
