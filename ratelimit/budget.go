package ratelimit

import (
	"strings"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"golang.org/x/time/rate"
)

// Budget is the steady pace and burst a client may spend against one broker.
type Budget struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter builds a token bucket for the budget. A zero pace is unlimited.
func (b Budget) Limiter() *rate.Limiter {
	limit := rate.Inf
	if b.RequestsPerSecond > 0 {
		limit = rate.Limit(b.RequestsPerSecond)
	}
	burst := b.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// Published per-account allowances. Alpaca documents 200 requests per
// minute. Schwab's trader API allows 120 per minute.
var brokerBudgets = map[string]Budget{
	"alpaca": {RequestsPerSecond: 200.0 / 60.0, Burst: 10},
	"schwab": {RequestsPerSecond: 2, Burst: 4},
}

// Budgets resolves the pace for each broker. The http section of the config
// paces brokers without a published allowance and caps the published ones,
// so an operator can slow a broker down but never push it past its limit.
type Budgets struct {
	fallback Budget
}

func NewBudgets(cfg core.HTTPConfig) Budgets {
	return Budgets{fallback: Budget{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}}
}

func (b Budgets) For(brokerKey string) Budget {
	published, ok := brokerBudgets[strings.ToLower(strings.TrimSpace(brokerKey))]
	if !ok {
		return b.fallback
	}
	if pace := b.fallback.RequestsPerSecond; pace > 0 && pace < published.RequestsPerSecond {
		published.RequestsPerSecond = pace
	}
	if burst := b.fallback.Burst; burst > 0 && burst < published.Burst {
		published.Burst = burst
	}
	return published
}
