package core

import (
	"context"
	"strings"
)

// Metric names emitted outside observeOperation. Operation metrics are
// named tradeexec.<operation>.total and tradeexec.<operation>.duration_ms.
const (
	MetricStateRejected   = "tradeexec.state_validation.rejected"
	MetricRefreshShared   = "tradeexec.refresh.shared"
	MetricRefreshAttempts = "tradeexec.refresh.attempts"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// cloneTags copies tags with blank entries dropped and the broker key
// lower-cased, so "Alpaca" and "alpaca" land in one series.
func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if key == "broker_key" {
			value = strings.ToLower(value)
		}
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
