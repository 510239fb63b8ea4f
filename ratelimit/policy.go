package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

// AdaptivePolicy remembers what each broker said about its remaining
// allowance and refuses calls locally while a bucket is known to be empty.
// Alpaca reports X-RateLimit-* headers on every response. Schwab only
// answers 429, so its cool-down comes from Retry-After or from the
// exponential backoff below.
type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if wait := state.coolDown(p.now()); wait > 0 {
		return ThrottledError{BrokerKey: state.Key.BrokerKey, BucketKey: state.Key.BucketKey, RetryAfter: wait}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range res.Metadata {
		state.Metadata[k] = v
	}

	reading := readQuota(res, now)
	reading.apply(&state)

	if !reading.exhausted(res.StatusCode, state.Remaining) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := reading.retryAfter
	if !reading.hasRetryAfter {
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// nextBackoff doubles from InitialBackoff per consecutive throttled
// response and stops at MaxBackoff.
func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum || delay <= 0 {
			break
		}
	}
	switch {
	case delay <= 0:
		return p.defaultRetryHint()
	case delay > maximum:
		return maximum
	}
	return delay
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

// coolDown is how long the caller must wait before the bucket can be used
// again, zero when it is open.
func (s State) coolDown(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

// quota is what a single broker response disclosed about the bucket.
type quota struct {
	limit, remaining       int
	hasLimit, hasRemaining bool
	resetAt                time.Time
	hasResetAt             bool
	retryAfter             time.Duration
	hasRetryAfter          bool
}

func readQuota(res core.ProviderResponseMeta, now time.Time) quota {
	var q quota
	q.limit, q.hasLimit = headerInt(res.Headers, "x-ratelimit-limit")
	q.remaining, q.hasRemaining = headerInt(res.Headers, "x-ratelimit-remaining")
	q.resetAt, q.hasResetAt = headerUnix(res.Headers, "x-ratelimit-reset")
	q.retryAfter, q.hasRetryAfter = retryAfter(res, now)
	return q
}

func (q quota) apply(state *State) {
	if q.hasLimit {
		state.Limit = q.limit
	}
	if q.hasRemaining {
		state.Remaining = q.remaining
	}
	if q.hasResetAt {
		resetAt := q.resetAt
		state.ResetAt = &resetAt
	}
	state.RetryAfter = nil
	if q.hasRetryAfter {
		wait := q.retryAfter
		state.RetryAfter = &wait
	}
}

func (q quota) disclosed() bool {
	return q.hasLimit || q.hasRemaining || q.hasResetAt || q.hasRetryAfter
}

// exhausted reports a 429, or a non-5xx response whose quota headers
// leave nothing in the bucket. Server errors never count against quota.
func (q quota) exhausted(status, remaining int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return false
	}
	return remaining == 0 && q.disclosed()
}

func retryAfter(res core.ProviderResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func headerInt(headers map[string]string, name string) (int, bool) {
	value := headerValue(headers, name)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	return parsed, err == nil
}

func headerUnix(headers map[string]string, name string) (time.Time, bool) {
	value := headerValue(headers, name)
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, name string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)
