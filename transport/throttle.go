package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/ratelimit"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

const (
	MetadataBrokerKey = "broker_key"
	MetadataBucketKey = "bucket_key"

	defaultBrokerKey = "default"
)

// ThrottledAdapter spaces calls per broker with a token bucket sized to that
// broker's budget and feeds responses back into an optional adaptive policy.
type ThrottledAdapter struct {
	next    core.TransportAdapter
	policy  core.RateLimitPolicy
	budgets ratelimit.Budgets

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottledAdapter paces each broker at its own budget. Requests without
// a broker_key share the configured fallback pace.
func NewThrottledAdapter(next core.TransportAdapter, budgets ratelimit.Budgets, policy core.RateLimitPolicy) *ThrottledAdapter {
	return &ThrottledAdapter{
		next:     next,
		policy:   policy,
		budgets:  budgets,
		limiters: map[string]*rate.Limiter{},
	}
}

func (a *ThrottledAdapter) Kind() string {
	if a == nil || a.next == nil {
		return ""
	}
	return a.next.Kind()
}

func (a *ThrottledAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.next == nil {
		return core.TransportResponse{}, transportError(
			"transport: throttled adapter requires a delegate",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := rateLimitKey(req)

	if a.policy != nil {
		if err := a.policy.BeforeCall(ctx, key); err != nil {
			return core.TransportResponse{}, err
		}
	}
	if err := a.limiter(key.BrokerKey).Wait(ctx); err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryRateLimit,
			"transport: rate limit wait aborted",
			http.StatusTooManyRequests,
			map[string]any{"broker_key": key.BrokerKey},
		)
	}

	response, err := a.next.Do(ctx, req)
	if a.policy != nil && err == nil {
		if afterErr := a.policy.AfterCall(ctx, key, responseMeta(response)); afterErr != nil {
			return response, afterErr
		}
	}
	return response, err
}

func (a *ThrottledAdapter) limiter(brokerKey string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	limiter, ok := a.limiters[brokerKey]
	if !ok {
		limiter = a.budgets.For(brokerKey).Limiter()
		a.limiters[brokerKey] = limiter
	}
	return limiter
}

func rateLimitKey(req core.TransportRequest) core.RateLimitKey {
	key := core.RateLimitKey{
		BrokerKey: metadataString(req.Metadata, MetadataBrokerKey),
		BucketKey: metadataString(req.Metadata, MetadataBucketKey),
	}
	if key.BrokerKey == "" {
		key.BrokerKey = defaultBrokerKey
	}
	return key
}

func responseMeta(res core.TransportResponse) core.ProviderResponseMeta {
	meta := core.ProviderResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		Metadata:   res.Metadata,
	}
	if retryAfter, ok := parseRetryAfter(headerValue(res.Headers, "Retry-After")); ok {
		meta.RetryAfter = &retryAfter
	}
	return meta
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}

func headerValue(headers map[string]string, name string) string {
	if value, ok := headers[name]; ok {
		return value
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

func metadataString(metadata map[string]any, key string) string {
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	text, _ := value.(string)
	return strings.TrimSpace(strings.ToLower(text))
}

var _ core.TransportAdapter = (*ThrottledAdapter)(nil)
