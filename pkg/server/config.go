package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kingphisher/kingphisher/internal/telemetry"
	"github.com/kingphisher/kingphisher/pkg/config"
)

// DefaultShutdownTimeout bounds the graceful HTTP shutdown when
// server.shutdown_timeout is not set.
const DefaultShutdownTimeout = 5 * time.Second

// ErrInvalidConfig is returned when the server section fails validation.
var ErrInvalidConfig = errors.New("invalid server configuration")

// Config is the typed view of the server section.
type Config struct {
	Address AddressConfig `mapstructure:"address"`

	// Database is the store URL, see store.ParseURL.
	Database string `mapstructure:"database" validate:"required"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`

	// Metrics mounts the Prometheus handler on /metrics.
	Metrics bool `mapstructure:"metrics"`

	// Telemetry configures request tracing and profiling.
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// AddressConfig is the listen address. Port 0 picks a free port.
type AddressConfig struct {
	Host string `mapstructure:"host" validate:"omitempty,ip|hostname"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// ConfigFrom decodes and validates the server section of cfg.
func ConfigFrom(cfg *config.Configuration) (Config, error) {
	c := Config{Telemetry: telemetry.DefaultConfig()}
	if err := cfg.UnmarshalKey("server", &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the configuration with struct tags.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
