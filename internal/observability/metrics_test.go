package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_IncrementCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics("test", reg)

	metrics.IncrementCounter("jobs.submitted", nil)
	metrics.IncrementCounter("jobs.submitted", nil)

	vec := metrics.counters[metricKey("jobs.submitted", nil)]
	require.NotNil(t, vec)
	assert.Equal(t, 2.0, testutil.ToFloat64(vec.WithLabelValues()))
}

func TestPrometheusMetrics_CounterWithTags(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics("test", reg)

	metrics.IncrementCounter("jobs.finished", map[string]string{"status": "completed"})
	metrics.IncrementCounter("jobs.finished", map[string]string{"status": "completed"})
	metrics.IncrementCounter("jobs.finished", map[string]string{"status": "failed"})

	vec := metrics.counters[metricKey("jobs.finished", []string{"status"})]
	require.NotNil(t, vec)
	assert.Equal(t, 2.0, testutil.ToFloat64(vec.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("failed")))
}

func TestPrometheusMetrics_WithTags(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics("test", reg)

	tagged := metrics.WithTags(map[string]string{"component": "resolver"})
	tagged.IncrementCounter("cache.hits", nil)

	vec := metrics.counters[metricKey("cache.hits", []string{"component"})]
	require.NotNil(t, vec)
	assert.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("resolver")))
}

func TestPrometheusMetrics_Gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics("test", reg)

	metrics.RecordGauge("queue.depth", 7, nil)
	metrics.RecordGauge("queue.depth", 3, nil)

	vec := metrics.gauges[metricKey("queue.depth", nil)]
	require.NotNil(t, vec)
	assert.Equal(t, 3.0, testutil.ToFloat64(vec.WithLabelValues()))
}

func TestSanitizeMetricName(t *testing.T) {
	assert.Equal(t, "jobs_submitted", sanitizeMetricName("jobs.submitted"))
	assert.Equal(t, "fetch_duration_seconds", sanitizeMetricName("fetch.duration-seconds"))
	assert.Equal(t, "plain_name", sanitizeMetricName("plain_name"))
}

func TestMetricKey_DistinguishesLabelSets(t *testing.T) {
	assert.NotEqual(t,
		metricKey("requests", []string{"status"}),
		metricKey("requests", []string{"status", "method"}))
}
