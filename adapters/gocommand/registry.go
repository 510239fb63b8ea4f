package gocommand

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// Registry records every credential and order handler with go-command so the
// set can be listed and initialized, and subscribes it on the dispatcher.
type Registry struct {
	registry *gocmd.Registry
}

func NewRegistry(registry *gocmd.Registry) *Registry {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &Registry{registry: registry}
}

// Subscribe registers a command handler and subscribes it. A failed
// registration leaves no subscription behind.
func Subscribe[T any](r *Registry, cmd gocmd.Commander[T], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if r == nil || r.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return r.track(cmd, commanddispatcher.SubscribeCommand(cmd, runnerOpts...))
}

// SubscribeQuery is Subscribe for read handlers.
func SubscribeQuery[T any, R any](r *Registry, qry gocmd.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if r == nil || r.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return r.track(qry, commanddispatcher.SubscribeQuery(qry, runnerOpts...))
}

func (r *Registry) track(handler any, subscription commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if err := r.registry.RegisterCommand(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Dispatch checks the message contract before routing, so a message without
// a type or one that fails Validate never reaches a handler.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := checkMessage(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func checkMessage(msg any) error {
	typed, ok := msg.(gocmd.Message)
	if !ok || strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return gocmd.ValidateMessage(msg)
}
