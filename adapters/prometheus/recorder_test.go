package prometheus

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecorder_IncCounterExportsLabels(t *testing.T) {
	reg := prom.NewRegistry()
	recorder := NewRecorder(reg, Options{})

	tags := map[string]string{"operation": "refresh", "status": "success", "broker_key": "schwab", "job_id": "ignored"}
	recorder.IncCounter(context.Background(), "tradeexec.refresh.total", 1, tags)
	recorder.IncCounter(context.Background(), "tradeexec.refresh.total", 2, tags)

	family := findFamily(t, reg, "tradeexec_refresh_total")
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected one series, got %d", len(family.GetMetric()))
	}
	metric := family.GetMetric()[0]
	if got := metric.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected counter 3, got %v", got)
	}
	labels := map[string]string{}
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	if labels["broker_key"] != "schwab" || labels["status"] != "success" {
		t.Fatalf("unexpected labels: %#v", labels)
	}
	if _, ok := labels["job_id"]; ok {
		t.Fatalf("expected tags outside the label set to be dropped")
	}
}

func TestRecorder_ObserveHistogram(t *testing.T) {
	reg := prom.NewRegistry()
	recorder := NewRecorder(reg, Options{Namespace: "svc"})

	recorder.ObserveHistogram(context.Background(), "refresh.duration_ms", 42, map[string]string{"operation": "refresh"})
	recorder.ObserveHistogram(context.Background(), "refresh.duration_ms", 8, map[string]string{"operation": "refresh"})

	family := findFamily(t, reg, "svc_refresh_duration_ms")
	histogram := family.GetMetric()[0].GetHistogram()
	if histogram.GetSampleCount() != 2 || histogram.GetSampleSum() != 50 {
		t.Fatalf("unexpected histogram: count=%d sum=%v", histogram.GetSampleCount(), histogram.GetSampleSum())
	}
}

func TestRecorder_ReusesVectorsAcrossRecorders(t *testing.T) {
	reg := prom.NewRegistry()
	first := NewRecorder(reg, Options{})
	second := NewRecorder(reg, Options{})

	first.IncCounter(context.Background(), "tradeexec.disconnect.total", 1, nil)
	second.IncCounter(context.Background(), "tradeexec.disconnect.total", 1, nil)

	family := findFamily(t, reg, "tradeexec_disconnect_total")
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected shared counter 2, got %v", got)
	}
}

func TestRecorder_DrivenByService(t *testing.T) {
	reg := prom.NewRegistry()
	svc, err := core.NewService(core.Config{},
		core.WithMetricsRecorder(NewRecorder(reg, Options{})),
		core.WithTokenStore(core.NewMemoryTokenStore()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Disconnect(context.Background(), "alpaca", "u1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	findFamily(t, reg, "tradeexec_disconnect_total")
	findFamily(t, reg, "tradeexec_disconnect_duration_ms")
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	NewRecorder(reg, Options{}).IncCounter(context.Background(), "tradeexec.refresh.total", 1, map[string]string{"status": "failure"})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tradeexec_refresh_total") {
		t.Fatalf("expected metric in scrape output: %s", body)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"tradeexec.refresh.total": "tradeexec_refresh_total",
		"9lives":                  "_9lives",
		" a-b ":                   "a_b",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func findFamily(t *testing.T, reg *prom.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}
