package observability

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics using the Prometheus client library.
// Collectors are created lazily per metric name and registered with the
// given registerer; metric names are sanitized to Prometheus conventions and
// prefixed with the service name.
type PrometheusMetrics struct {
	mu          sync.Mutex
	serviceName string
	registerer  prometheus.Registerer
	defaultTags map[string]string

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics registered against the
// given registerer. Pass prometheus.DefaultRegisterer in production; tests
// should use prometheus.NewRegistry to avoid duplicate registration.
func NewPrometheusMetrics(serviceName string, registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		serviceName: sanitizeMetricName(serviceName),
		registerer:  registerer,
		counters:    make(map[string]*prometheus.CounterVec),
		histograms:  make(map[string]*prometheus.HistogramVec),
		gauges:      make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PrometheusMetrics) IncrementCounter(name string, tags map[string]string) {
	tags = m.mergeTags(tags)
	labels := labelNames(tags)
	key := metricKey(name, labels)

	m.mu.Lock()
	vec, ok := m.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: m.fullName(name) + "_total",
			Help: "Counter " + name,
		}, labels)
		m.registerer.MustRegister(vec)
		m.counters[key] = vec
	}
	m.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Inc()
}

func (m *PrometheusMetrics) RecordHistogram(name string, value float64, tags map[string]string) {
	tags = m.mergeTags(tags)
	labels := labelNames(tags)
	key := metricKey(name, labels)

	m.mu.Lock()
	vec, ok := m.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    m.fullName(name),
			Help:    "Histogram " + name,
			Buckets: prometheus.DefBuckets,
		}, labels)
		m.registerer.MustRegister(vec)
		m.histograms[key] = vec
	}
	m.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Observe(value)
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags map[string]string) {
	tags = m.mergeTags(tags)
	labels := labelNames(tags)
	key := metricKey(name, labels)

	m.mu.Lock()
	vec, ok := m.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: m.fullName(name),
			Help: "Gauge " + name,
		}, labels)
		m.registerer.MustRegister(vec)
		m.gauges[key] = vec
	}
	m.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Set(value)
}

// WithTags returns a Metrics whose recordings always carry the given tags.
// The underlying collectors are shared with the parent.
func (m *PrometheusMetrics) WithTags(tags map[string]string) Metrics {
	merged := make(map[string]string, len(m.defaultTags)+len(tags))
	for k, v := range m.defaultTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return &taggedMetrics{parent: m, tags: merged}
}

func (m *PrometheusMetrics) mergeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(m.defaultTags)+len(tags))
	for k, v := range m.defaultTags {
		out[k] = v
	}
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func (m *PrometheusMetrics) fullName(name string) string {
	return m.serviceName + "_" + sanitizeMetricName(name)
}

// taggedMetrics wraps a PrometheusMetrics with extra default tags.
type taggedMetrics struct {
	parent *PrometheusMetrics
	tags   map[string]string
}

func (t *taggedMetrics) IncrementCounter(name string, tags map[string]string) {
	t.parent.IncrementCounter(name, t.merge(tags))
}

func (t *taggedMetrics) RecordHistogram(name string, value float64, tags map[string]string) {
	t.parent.RecordHistogram(name, value, t.merge(tags))
}

func (t *taggedMetrics) RecordGauge(name string, value float64, tags map[string]string) {
	t.parent.RecordGauge(name, value, t.merge(tags))
}

func (t *taggedMetrics) WithTags(tags map[string]string) Metrics {
	return &taggedMetrics{parent: t.parent, tags: t.merge(tags)}
}

func (t *taggedMetrics) merge(tags map[string]string) map[string]string {
	out := make(map[string]string, len(t.tags)+len(tags))
	for k, v := range t.tags {
		out[k] = v
	}
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// sanitizeMetricName replaces characters Prometheus rejects in metric names.
func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// metricKey identifies a collector by name and label set. The same metric
// name with different label sets needs distinct collectors.
func metricKey(name string, labels []string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

// NopMetrics discards everything. Intended for tests.
type NopMetrics struct{}

func NewNopMetrics() *NopMetrics { return &NopMetrics{} }

func (NopMetrics) IncrementCounter(string, map[string]string)         {}
func (NopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (NopMetrics) RecordGauge(string, float64, map[string]string)     {}
func (n NopMetrics) WithTags(map[string]string) Metrics               { return n }
