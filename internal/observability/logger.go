package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel converts a string representation to a LogLevel.
// Unrecognized levels default to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// String returns the string representation of a LogLevel.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// JSONLogger implements Logger with one JSON object per line, suitable for
// log aggregation systems. Entries carry timestamp, level, service,
// environment and hostname alongside caller-supplied fields.
type JSONLogger struct {
	mu          sync.Mutex
	output      io.Writer
	serviceName string
	environment string
	hostname    string
	minLevel    LogLevel
	// persistentFields are included in every entry from this logger.
	persistentFields map[string]interface{}
}

// NewLogger creates a JSONLogger. If output is nil it defaults to os.Stdout.
func NewLogger(serviceName, environment, logLevel string, output io.Writer) *JSONLogger {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	if output == nil {
		output = os.Stdout
	}

	return &JSONLogger{
		output:      output,
		serviceName: serviceName,
		environment: environment,
		hostname:    hostname,
		minLevel:    ParseLevel(logLevel),
	}
}

func (l *JSONLogger) Debug(msg string, fields ...interface{}) {
	if l.minLevel > DebugLevel {
		return
	}
	l.log(DebugLevel, msg, fields)
}

func (l *JSONLogger) Info(msg string, fields ...interface{}) {
	if l.minLevel > InfoLevel {
		return
	}
	l.log(InfoLevel, msg, fields)
}

func (l *JSONLogger) Warn(msg string, fields ...interface{}) {
	if l.minLevel > WarnLevel {
		return
	}
	l.log(WarnLevel, msg, fields)
}

func (l *JSONLogger) Error(msg string, fields ...interface{}) {
	l.log(ErrorLevel, msg, fields)
}

// WithFields returns a copy of the logger whose entries always include the
// given fields.
func (l *JSONLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.persistentFields)+len(fields))
	for k, v := range l.persistentFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &JSONLogger{
		output:           l.output,
		serviceName:      l.serviceName,
		environment:      l.environment,
		hostname:         l.hostname,
		minLevel:         l.minLevel,
		persistentFields: merged,
	}
}

func (l *JSONLogger) log(level LogLevel, msg string, fields []interface{}) {
	entry := map[string]interface{}{
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"level":       level.String(),
		"service":     l.serviceName,
		"environment": l.environment,
		"hostname":    l.hostname,
		"message":     msg,
	}

	for k, v := range l.persistentFields {
		entry[k] = v
	}

	// Fields come as alternating key/value pairs. An odd trailing value is
	// kept under a synthetic key rather than dropped.
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("field_%d", i)
		}
		entry[key] = normalizeValue(fields[i+1])
	}
	if len(fields)%2 != 0 {
		entry["extra"] = normalizeValue(fields[len(fields)-1])
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"error","message":"failed to marshal log entry: %v"}`, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

// normalizeValue converts values json.Marshal can't represent usefully.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return val.String()
	default:
		return v
	}
}

// NopLogger discards everything. Intended for tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (NopLogger) Debug(string, ...interface{})               {}
func (NopLogger) Info(string, ...interface{})                {}
func (NopLogger) Warn(string, ...interface{})                {}
func (NopLogger) Error(string, ...interface{})               {}
func (n NopLogger) WithFields(map[string]interface{}) Logger { return n }
