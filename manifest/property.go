package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/flowmesh/errors"
)

// envRefPattern matches ${env:VAR} references inside string values.
var envRefPattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadProperties reads an instance property file (JSON or YAML by
// extension, JSON otherwise) and resolves ${env:VAR} references against
// the process environment. Unset variables resolve to the empty string.
func LoadProperties(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Property", "LoadProperties", "property read")
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Property", "LoadProperties", "yaml parse")
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Property", "LoadProperties", "json parse")
		}
	}

	return SubstituteEnv(raw), nil
}

// SubstituteEnv resolves ${env:VAR} references in every string value of
// the bag, recursing into nested maps and slices. The input is not
// modified.
func SubstituteEnv(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = substituteValue(v)
	}
	return out
}

func substituteValue(v any) any {
	switch tv := v.(type) {
	case string:
		return envRefPattern.ReplaceAllStringFunc(tv, func(ref string) string {
			name := envRefPattern.FindStringSubmatch(ref)[1]
			return os.Getenv(name)
		})
	case map[string]any:
		return SubstituteEnv(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = substituteValue(item)
		}
		return out
	default:
		return v
	}
}

// GetString safely extracts a string value from a property bag with a
// default fallback.
func GetString(props map[string]any, key, defaultValue string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultValue
}

// GetInt safely extracts an integer value from a property bag with a
// default fallback. JSON decoding produces float64, so both are
// accepted.
func GetInt(props map[string]any, key string, defaultValue int) int {
	if v, ok := props[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultValue
}

// GetBool safely extracts a boolean value from a property bag with a
// default fallback.
func GetBool(props map[string]any, key string, defaultValue bool) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}
