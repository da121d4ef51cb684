package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaFileName is the verification schema artifact looked up on the data
// path.
const SchemaFileName = "server_config.yml"

// Type names used by the verification schema and in diagnostics.
const (
	TypeString = "str"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeList   = "list"
	TypeDict   = "dict"
	TypeNull   = "null"
)

var knownTypes = map[string]bool{
	TypeString: true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeBool:   true,
	TypeList:   true,
	TypeDict:   true,
	TypeNull:   true,
}

// ErrInvalidSchema is returned when the schema artifact cannot be decoded.
var ErrInvalidSchema = errors.New("invalid verification schema")

// Schema lists the options a configuration must carry and the types each
// one may hold.
type Schema struct {
	// Settings maps a dotted option name to its accepted types.
	Settings map[string][]string
}

type schemaDocument struct {
	Settings map[string]string `yaml:"settings"`
}

// LoadSchema reads a schema artifact. Each entry under "settings" names an
// option and one or more types separated by '|':
//
//	settings:
//	  server.address.port: int
//	  server.fork: bool|null
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSchema(data)
}

// ParseSchema decodes a schema artifact from memory.
func ParseSchema(data []byte) (*Schema, error) {
	var doc schemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if len(doc.Settings) == 0 {
		return nil, fmt.Errorf("%w: no settings defined", ErrInvalidSchema)
	}

	schema := &Schema{Settings: make(map[string][]string, len(doc.Settings))}
	for option, spec := range doc.Settings {
		var types []string
		for _, t := range strings.Split(spec, "|") {
			t = strings.ToLower(strings.TrimSpace(t))
			if !knownTypes[t] {
				return nil, fmt.Errorf("%w: option %q has unknown type %q", ErrInvalidSchema, option, t)
			}
			types = append(types, t)
		}
		schema.Settings[strings.ToLower(option)] = types
	}
	return schema, nil
}

// Incompatible is an option whose value has the wrong type.
type Incompatible struct {
	Option   string
	Observed string
}

// VerificationResult is the outcome of verifying a configuration against a
// schema. A zero value is a valid result.
type VerificationResult struct {
	Missing      []string
	Incompatible []Incompatible
}

// Valid reports whether nothing is missing or incompatible.
func (r VerificationResult) Valid() bool {
	return len(r.Missing) == 0 && len(r.Incompatible) == 0
}

// Verify checks every schema option against the configuration. Results are
// sorted by option name.
func (c *Configuration) Verify(schema *Schema) VerificationResult {
	options := make([]string, 0, len(schema.Settings))
	for option := range schema.Settings {
		options = append(options, option)
	}
	sort.Strings(options)

	var result VerificationResult
	for _, option := range options {
		accepted := schema.Settings[option]
		if !c.HasOption(option) {
			if accepts(accepted, TypeNull) {
				continue
			}
			result.Missing = append(result.Missing, option)
			continue
		}

		observed := TypeName(c.Get(option))
		if !compatible(accepted, observed) {
			result.Incompatible = append(result.Incompatible, Incompatible{Option: option, Observed: observed})
		}
	}
	return result
}

func accepts(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func compatible(accepted []string, observed string) bool {
	if accepts(accepted, observed) {
		return true
	}
	// Integers are valid wherever a float is accepted.
	return observed == TypeInt && accepts(accepted, TypeFloat)
}

// TypeName returns the schema type name of a decoded configuration value.
func TypeName(value any) string {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32:
		return floatType(float64(v))
	case float64:
		return floatType(v)
	case []any, []string, []int:
		return TypeList
	case map[string]any, map[any]any:
		return TypeDict
	default:
		return fmt.Sprintf("%T", value)
	}
}

// floatType treats integral floats as int; JSON decodes every number as
// float64.
func floatType(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return TypeInt
	}
	return TypeFloat
}
