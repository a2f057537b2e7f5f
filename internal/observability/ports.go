// Package observability provides the logging and metrics interfaces used
// across the service, together with a JSON stdout logger and a Prometheus
// metrics implementation.
package observability

// Logger defines the interface for structured logging in the application.
// Fields are alternating key/value pairs.
type Logger interface {
	// Debug logs detailed diagnostic messages, typically disabled in production.
	Debug(msg string, fields ...interface{})

	// Info logs informational messages for normal operations.
	// Use for tracking successful operations, state changes, and general flow.
	Info(msg string, fields ...interface{})

	// Warn logs conditions that don't prevent operation but deserve attention.
	Warn(msg string, fields ...interface{})

	// Error logs error conditions. Pass the error under an "error" key.
	Error(msg string, fields ...interface{})

	// WithFields returns a new Logger with the given fields added to all subsequent logs.
	// Useful for adding consistent context like job_id or component name.
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the interface for recording application metrics.
type Metrics interface {
	// IncrementCounter increments a counter metric by 1.
	// Use for counting discrete events: requests, errors, completions.
	IncrementCounter(name string, tags map[string]string)

	// RecordHistogram records a value in a histogram distribution.
	// Use for latencies, sizes, or any value where distribution matters.
	RecordHistogram(name string, value float64, tags map[string]string)

	// RecordGauge records a point-in-time measurement.
	RecordGauge(name string, value float64, tags map[string]string)

	// WithTags returns a new Metrics instance with additional default tags.
	WithTags(tags map[string]string) Metrics
}
