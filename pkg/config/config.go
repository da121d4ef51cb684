// Package config loads and verifies the King Phisher configuration file.
//
// A Configuration is a read-only view over a YAML or JSON document whose
// options are addressed by dotted names ("server.fork", "logging.file").
// It is loaded once at startup and never mutated afterwards.
//
// Verification against a schema artifact (see Schema) happens separately so
// that the caller can report every missing or type-incompatible option at
// once instead of failing on the first one.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Option names consumed directly by the startup sequence.
const (
	OptionServerFork           = "server.fork"
	OptionServerPidFile        = "server.pid_file"
	OptionServerSetuidUsername = "server.setuid_username"
	OptionServerDataPath       = "server.data_path"
	OptionLoggingLevel         = "logging.level"
	OptionLoggingFile          = "logging.file"
	OptionLoggingConsole       = "logging.console"
	OptionLoggingFormat        = "logging.format"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// Configuration is an immutable, loaded configuration document.
type Configuration struct {
	v    *viper.Viper
	doc  map[string]any
	path string
}

// Load reads the configuration file at path. Files ending in .json are read
// as JSON; anything else is read as YAML.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}

	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return &Configuration{v: v, doc: doc, path: path}, nil
}

// decodeDocument keeps the document as written. viper drops options whose
// value is null, so presence is answered from this copy.
func decodeDocument(data []byte, format string) (map[string]any, error) {
	doc := map[string]any{}
	var err error
	if format == "json" {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// FromMap builds a Configuration from an in-memory document keyed by dotted
// option names. It is used by tests and by callers that assemble
// configuration programmatically.
func FromMap(settings map[string]any) *Configuration {
	v := viper.New()
	doc := map[string]any{}
	for key, value := range settings {
		v.Set(key, value)

		parts := strings.Split(key, ".")
		section := doc
		for _, part := range parts[:len(parts)-1] {
			next, ok := section[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				section[part] = next
			}
			section = next
		}
		section[parts[len(parts)-1]] = value
	}
	return &Configuration{v: v, doc: doc}
}

// Path returns the file the configuration was loaded from.
func (c *Configuration) Path() string {
	return c.path
}

// HasOption reports whether the dotted option name is present in the
// document. An option written with a null value is present.
func (c *Configuration) HasOption(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

// HasSection reports whether name is present and holds a mapping.
func (c *Configuration) HasSection(name string) bool {
	value, ok := c.lookup(name)
	if !ok {
		return false
	}
	_, ok = asSection(value)
	return ok
}

// lookup walks the document one dotted component at a time. Names match
// case-insensitively, like viper keys.
func (c *Configuration) lookup(name string) (any, bool) {
	var node any = c.doc
	for _, part := range strings.Split(name, ".") {
		section, ok := asSection(node)
		if !ok {
			return nil, false
		}
		if node, ok = section[part]; ok {
			continue
		}
		found := false
		for key, value := range section {
			if strings.EqualFold(key, part) {
				node, found = value, true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return node, true
}

func asSection(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		section := make(map[string]any, len(m))
		for key, v := range m {
			section[fmt.Sprint(key)] = v
		}
		return section, true
	}
	return nil, false
}

// Get returns the raw value of an option, or nil. Mappings returned for
// sections are shared with the configuration and must not be modified.
func (c *Configuration) Get(name string) any {
	return c.v.Get(name)
}

// GetString returns the option as a string ("" when unset).
func (c *Configuration) GetString(name string) string {
	return c.v.GetString(name)
}

// GetBool returns the option as a bool (false when unset).
func (c *Configuration) GetBool(name string) bool {
	return c.v.GetBool(name)
}

// GetBoolDefault returns the option as a bool, or def when unset.
func (c *Configuration) GetBoolDefault(name string, def bool) bool {
	if !c.v.IsSet(name) || c.v.Get(name) == nil {
		return def
	}
	return c.v.GetBool(name)
}

// GetInt returns the option as an int (0 when unset).
func (c *Configuration) GetInt(name string) int {
	return c.v.GetInt(name)
}

// GetDuration returns the option as a time.Duration (0 when unset).
func (c *Configuration) GetDuration(name string) time.Duration {
	return c.v.GetDuration(name)
}

// Keys returns all leaf option names in sorted order.
func (c *Configuration) Keys() []string {
	keys := c.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// UnmarshalKey decodes a section into out using mapstructure tags and the
// duration decode hook.
func (c *Configuration) UnmarshalKey(name string, out any) error {
	if err := c.v.UnmarshalKey(name, out, viper.DecodeHook(configDecodeHooks())); err != nil {
		return fmt.Errorf("failed to decode %q: %w", name, err)
	}
	return nil
}

// configDecodeHooks returns the decode hooks applied to typed views.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Bare integers are seconds in config files.
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
