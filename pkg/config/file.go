package config

import "time"

// File documents the layout of the server configuration file. It is used to
// generate the JSON schema served by `kingphisher-server config schema`; the
// startup sequence reads options through Configuration instead.
type File struct {
	Server  ServerSection  `mapstructure:"server" json:"server" yaml:"server" jsonschema:"required"`
	Logging LoggingSection `mapstructure:"logging" json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerSection holds the server.* options.
type ServerSection struct {
	// Address is where the service listens.
	Address AddressSection `mapstructure:"address" json:"address" yaml:"address" jsonschema:"required"`

	// Database is the storage URL, e.g. sqlite:///var/lib/king-phisher/king-phisher.db
	Database string `mapstructure:"database" json:"database" yaml:"database" jsonschema:"required"`

	// DataPath is searched first for data files such as server_config.yml.
	DataPath string `mapstructure:"data_path" json:"data_path,omitempty" yaml:"data_path,omitempty"`

	// Fork detaches the server into the background. Default: true.
	Fork *bool `mapstructure:"fork" json:"fork,omitempty" yaml:"fork,omitempty"`

	// PidFile receives the decimal process id of the running server.
	PidFile string `mapstructure:"pid_file" json:"pid_file,omitempty" yaml:"pid_file,omitempty"`

	// SetuidUsername is the account the server drops to after binding.
	SetuidUsername string `mapstructure:"setuid_username" json:"setuid_username,omitempty" yaml:"setuid_username,omitempty"`

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty" jsonschema:"type=string"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `mapstructure:"metrics" json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Telemetry exports request traces over OTLP and profiles to Pyroscope.
	Telemetry *TelemetrySection `mapstructure:"telemetry" json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// TelemetrySection holds the server.telemetry.* options.
type TelemetrySection struct {
	Enabled    bool    `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint   string  `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty" jsonschema:"example=localhost:4317"`
	Insecure   bool    `mapstructure:"insecure" json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate,omitempty" yaml:"sample_rate,omitempty" jsonschema:"minimum=0,maximum=1"`
	Profiling  struct {
		Enabled      bool     `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
		Endpoint     string   `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
		ProfileTypes []string `mapstructure:"profile_types" json:"profile_types,omitempty" yaml:"profile_types,omitempty"`
	} `mapstructure:"profiling" json:"profiling,omitempty" yaml:"profiling,omitempty"`
}

// AddressSection is a listen address.
type AddressSection struct {
	Host string `mapstructure:"host" json:"host" yaml:"host"`
	Port int    `mapstructure:"port" json:"port" yaml:"port" jsonschema:"minimum=1,maximum=65535"`
}

// LoggingSection holds the logging.* options.
type LoggingSection struct {
	Level  string `mapstructure:"level" json:"level,omitempty" yaml:"level,omitempty" jsonschema:"enum=DEBUG,enum=INFO,enum=WARNING,enum=ERROR,enum=CRITICAL"`
	File   string `mapstructure:"file" json:"file,omitempty" yaml:"file,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty" yaml:"format,omitempty" jsonschema:"enum=text,enum=json"`

	// Console is a level name, or false to disable console output.
	Console any `mapstructure:"console" json:"console,omitempty" yaml:"console,omitempty" jsonschema:"oneof_type=string;boolean"`
}
