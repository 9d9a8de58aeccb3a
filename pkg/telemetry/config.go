package telemetry

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level"`

	// Format is either "json" or "console".
	Format string `yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to each entry.
	EnableCaller bool `yaml:"enable_caller"`
}

// MetricsConfig controls the Prometheus metrics collector.
type MetricsConfig struct {
	// Enabled toggles metric collection. When false all recorders are no-ops.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric namespace prefix.
	Namespace string `yaml:"namespace"`
}

// EventsConfig controls the asynchronous event publisher.
type EventsConfig struct {
	// BufferSize is the capacity of the in-flight event channel. Events
	// published while the buffer is full are dropped.
	BufferSize int `yaml:"buffer_size"`
}

// TracingConfig controls the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled toggles span export.
	Enabled bool `yaml:"enabled"`

	// ServiceName is the reported service name.
	ServiceName string `yaml:"service_name"`
}

// DefaultLoggingConfig returns the logging defaults used by the CLI.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "stagehand",
	}
}

// DefaultEventsConfig returns the event publisher defaults.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		BufferSize: 256,
	}
}

// DefaultTracingConfig returns the tracing defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "stagehand",
	}
}
