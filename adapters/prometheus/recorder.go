package prometheus

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultLabels = []string{"operation", "status", "broker_key"}

// DefaultDurationBuckets are millisecond buckets from 5ms to roughly 20s,
// which covers token endpoint and broker round trips.
var DefaultDurationBuckets = prom.ExponentialBuckets(5, 2, 13)

type Options struct {
	Namespace string
	// Labels is the fixed label set every vector carries. Tags outside it
	// are dropped and missing tags are exported as empty values.
	Labels  []string
	Buckets []float64
}

// Recorder exports service counters and histograms as Prometheus vectors.
// Vectors are created on first use and registered with the given registerer.
type Recorder struct {
	registerer prom.Registerer
	namespace  string
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
}

func NewRecorder(registerer prom.Registerer, opts Options) *Recorder {
	if registerer == nil {
		registerer = prom.DefaultRegisterer
	}
	labels := opts.Labels
	if len(labels) == 0 {
		labels = defaultLabels
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}
	return &Recorder{
		registerer: registerer,
		namespace:  sanitizeName(opts.Namespace),
		labels:     append([]string(nil), labels...),
		buckets:    append([]float64(nil), buckets...),
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec, err := r.counter(name)
	if err != nil {
		return
	}
	vec.WithLabelValues(r.labelValues(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec, err := r.histogram(name)
	if err != nil {
		return
	}
	vec.WithLabelValues(r.labelValues(tags)...).Observe(value)
}

func (r *Recorder) counter(name string) (*prom.CounterVec, error) {
	metric := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec, nil
	}
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: metric,
		Help: "Count of " + strings.TrimSpace(name) + " events.",
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prom.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prom.CounterVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.counters[metric] = vec
	return vec, nil
}

func (r *Recorder) histogram(name string) (*prom.HistogramVec, error) {
	metric := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec, nil
	}
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metric,
		Help:    "Distribution of " + strings.TrimSpace(name) + ".",
		Buckets: r.buckets,
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prom.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prom.HistogramVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.histograms[metric] = vec
	return vec, nil
}

func (r *Recorder) labelValues(tags map[string]string) []string {
	values := make([]string, len(r.labels))
	for i, label := range r.labels {
		values[i] = strings.TrimSpace(tags[label])
	}
	return values
}

func (r *Recorder) metricName(name string) string {
	metric := sanitizeName(name)
	if r.namespace != "" && !strings.HasPrefix(metric, r.namespace+"_") {
		metric = r.namespace + "_" + metric
	}
	return metric
}

// sanitizeName maps dotted service metric names such as
// "tradeexec.refresh.total" onto the Prometheus name alphabet.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Handler serves the gathered metrics for scraping.
func Handler(gatherer prom.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ core.MetricsRecorder = (*Recorder)(nil)
