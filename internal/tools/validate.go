// ABOUTME: Walks a tool's declared JSON schema over call arguments
// ABOUTME: Checks required properties and primitive types before execution

package tools

import (
	"encoding/json"
	"fmt"
)

type schemaObject struct {
	Type       string                    `json:"type"`
	Required   []string                  `json:"required"`
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	Type string   `json:"type"`
	Enum []string `json:"enum"`
}

// ValidateArguments checks args against an object schema. Required keys must
// be present, and each declared property that is present must match its
// primitive type. Unknown keys pass through untouched.
func ValidateArguments(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	var obj schemaObject
	if err := json.Unmarshal(schema, &obj); err != nil {
		return fmt.Errorf("%w: malformed input schema: %v", ErrInvalidArguments, err)
	}

	for _, key := range obj.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
		}
	}

	for key, prop := range obj.Properties {
		val, ok := args[key]
		if !ok {
			continue
		}
		if err := checkType(key, prop, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, prop schemaProperty, val any) error {
	switch prop.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, key)
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, s) {
			return fmt.Errorf("%w: argument %q must be one of %v", ErrInvalidArguments, key, prop.Enum)
		}
	case "number", "integer":
		// JSON decoding yields float64 for all numbers
		switch val.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("%w: argument %q must be a number", ErrInvalidArguments, key)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("%w: argument %q must be a boolean", ErrInvalidArguments, key)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("%w: argument %q must be an object", ErrInvalidArguments, key)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("%w: argument %q must be an array", ErrInvalidArguments, key)
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
