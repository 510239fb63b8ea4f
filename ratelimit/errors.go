package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
)

// ThrottledError is returned before a call is made when the broker has
// already told us its bucket is empty.
type ThrottledError struct {
	BrokerKey  string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s %s cooling down for %s", e.broker(), e.bucket(), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"broker_key": strings.TrimSpace(e.BrokerKey),
		"bucket_key": strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

func (e ThrottledError) broker() string {
	if broker := strings.TrimSpace(e.BrokerKey); broker != "" {
		return broker
	}
	return "broker"
}

func (e ThrottledError) bucket() string {
	if bucket := strings.TrimSpace(e.BucketKey); bucket != "" {
		return "bucket " + bucket
	}
	return "default bucket"
}
