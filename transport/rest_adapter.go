package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
)

const KindREST = "rest"

const (
	// MetadataRequestID carries the broker's own id for the call so support
	// tickets can quote it.
	MetadataRequestID = "broker_request_id"

	defaultRESTResponseBodyLimit int64 = 10 << 20 // 10 MiB
	defaultUserAgent                   = "tradeexec/1"
)

// Headers brokers use to echo a request id. Alpaca sends X-Request-ID and
// Schwab sends Schwab-Client-CorrelId.
var requestIDHeaders = []string{"X-Request-ID", "Schwab-Client-CorrelId"}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter executes broker HTTP calls. Every request runs under a
// timeout clamped to the supported outbound window and asks for JSON.
type RESTAdapter struct {
	Client               HTTPDoer
	UserAgent            string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: core.MaxHTTPTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		UserAgent:            defaultUserAgent,
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: rest adapter requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindREST},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	brokerKey := metadataString(req.Metadata, MetadataBrokerKey)

	requestCtx, cancel := context.WithTimeout(ctx, core.ClampHTTPTimeout(req.Timeout))
	defer cancel()

	httpReq, err := a.newHTTPRequest(requestCtx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}

	startedAt := time.Now().UTC()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"adapter": KindREST, "broker_key": brokerKey, "method": httpReq.Method, "path": httpReq.URL.Path},
		)
	}
	defer httpRes.Body.Close()

	body, err := readBody(httpRes, resolveResponseBodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes))
	if err != nil {
		return core.TransportResponse{}, err
	}

	headers := flattenHeaders(httpRes.Header)
	metadata := map[string]any{
		"duration_ms": time.Since(startedAt).Milliseconds(),
		"kind":        KindREST,
	}
	if brokerKey != "" {
		metadata[MetadataBrokerKey] = brokerKey
	}
	if id := brokerRequestID(headers); id != "" {
		metadata[MetadataRequestID] = id
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Metadata:   metadata,
	}, nil
}

func (a *RESTAdapter) newHTTPRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	rawURL := strings.TrimSpace(req.URL)
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST, "url": rawURL},
		)
	}
	if target.String() == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST},
		)
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"adapter": KindREST, "method": method, "path": target.Path},
		)
	}
	httpReq.Header.Set("Accept", "application/json")
	if agent := strings.TrimSpace(a.UserAgent); agent != "" {
		httpReq.Header.Set("User-Agent", agent)
	}
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}
	if key := strings.TrimSpace(req.Idempotency); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}
	return httpReq, nil
}

// readBody refuses bodies over limit rather than handing a truncated JSON
// document to the broker decoders.
func readBody(res *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"adapter": KindREST, "status_code": res.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		return nil, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"adapter":          KindREST,
				"status_code":      res.StatusCode,
				"response_limit_b": limit,
			},
		)
	}
	return body, nil
}

func brokerRequestID(headers map[string]string) string {
	for _, name := range requestIDHeaders {
		if id := strings.TrimSpace(headerValue(headers, name)); id != "" {
			return id
		}
	}
	return ""
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, adapterLimit int64) int64 {
	switch {
	case requestLimit > 0:
		return requestLimit
	case adapterLimit > 0:
		return adapterLimit
	}
	return defaultRESTResponseBodyLimit
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
