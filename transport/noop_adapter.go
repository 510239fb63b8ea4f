package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	KindThrottled = "rest_throttled"
	KindFIX       = "fix"
	KindWebSocket = "websocket"
)

// UnsupportedAdapter stands in for broker protocols that have no client yet
// so selecting one fails at call time with a clear reason.

type UnsupportedAdapter struct {
	kind   string
	reason string
}

func NewUnsupportedAdapter(kind string, reason string) *UnsupportedAdapter {
	return &UnsupportedAdapter{
		kind:   strings.TrimSpace(strings.ToLower(kind)),
		reason: strings.TrimSpace(reason),
	}
}

func (a *UnsupportedAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *UnsupportedAdapter) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, transportError(
			"transport: adapter is nil",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	message := fmt.Sprintf("transport: %s adapter is not configured", a.kind)
	if a.reason != "" {
		message += ": " + a.reason
	}
	return core.TransportResponse{}, transportError(
		message,
		goerrors.CategoryOperation,
		http.StatusNotImplemented,
		map[string]any{"adapter": a.kind},
	)
}

var _ core.TransportAdapter = (*UnsupportedAdapter)(nil)
