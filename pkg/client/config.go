package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/kingphisher/kingphisher/pkg/config"
)

// DefaultFrontend is the frontend executable used when the client
// configuration does not name one.
const DefaultFrontend = "king-phisher-gtk"

// ErrInvalidConfig is returned when the client configuration fails validation.
var ErrInvalidConfig = errors.New("invalid client configuration")

// Config is the client section of the client configuration file.
type Config struct {
	// Frontend is the executable that renders the UI, by name or path.
	Frontend string `mapstructure:"frontend" json:"frontend" validate:"required"`

	// Args are passed to the frontend before any launcher arguments.
	Args []string `mapstructure:"args" json:"args,omitempty" validate:"dive,required"`
}

// DefaultConfigPath returns ~/.config/king-phisher/client_config.json (or the
// platform equivalent).
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "king-phisher", "client_config.json")
}

// LoadConfig reads the client configuration from path. A missing file is
// only an error when the path was given explicitly; otherwise defaults are
// returned.
func LoadConfig(path string, explicit bool) (*Config, error) {
	c := &Config{Frontend: DefaultFrontend}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) && !explicit {
			return c, nil
		}
		return nil, err
	}

	if cfg.HasSection("client") {
		if err := cfg.UnmarshalKey("client", c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c, nil
}
