package manifest

import (
	"fmt"
	"strings"

	"github.com/c360/flowmesh/errors"
)

// PropertySchema maps property names to their expected field schema.
// An empty or nil schema accepts any bag.
type PropertySchema map[string]FieldSchema

// FieldSchema describes one expected property.
type FieldSchema struct {
	// Type is one of "string", "int", "float", "bool", "object", "buf".
	Type string `json:"type"`
	// Required fields must be present; optional fields are checked only
	// when present.
	Required bool `json:"required,omitempty"`
}

// Validate checks a property bag against the schema and reports every
// violation in one error, wrapped around ErrSchemaMismatch.
func (s PropertySchema) Validate(props map[string]any) error {
	if len(s) == 0 {
		return nil
	}

	var violations []string
	for name, field := range s {
		value, present := props[name]
		if !present {
			if field.Required {
				violations = append(violations, fmt.Sprintf("%s: required property missing", name))
			}
			continue
		}
		if !matchesType(value, field.Type) {
			violations = append(violations,
				fmt.Sprintf("%s: expected %s, got %T", name, field.Type, value))
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return errors.WrapInvalid(errors.ErrSchemaMismatch,
		"PropertySchema", "Validate", strings.Join(violations, "; "))
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "int":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// JSON numbers decode as float64; accept integral values.
			f := value.(float64)
			return f == float64(int64(f))
		}
		return false
	case "float":
		switch value.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		switch value.(type) {
		case map[string]any:
			return true
		}
		return false
	case "buf":
		_, ok := value.([]byte)
		return ok
	default:
		// Unknown declared type: accept rather than reject, so old
		// runtimes tolerate newer manifest vocabularies.
		return true
	}
}
