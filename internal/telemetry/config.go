package telemetry

// ServiceName is reported to the trace and profiling backends.
const ServiceName = "king-phisher"

// Config is the telemetry section of the server configuration.
type Config struct {
	// Enabled turns on OTLP trace export.
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true"`

	// Insecure disables TLS towards the endpoint.
	Insecure bool `mapstructure:"insecure"`

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	// 1.0 means sample all traces, 0.5 means sample 50%
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`

	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 1.0,
		Profiling: ProfilingConfig{
			Endpoint:     "http://localhost:4040",
			ProfileTypes: []string{"cpu", "inuse_space"},
		},
	}
}
