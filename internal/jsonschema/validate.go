package jsonschema

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports a single schema mismatch. Message is formatted
// to match the Action Server's historical wording so callers can surface
// it verbatim in a run's error_message.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" || e.Path == "$" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks raw (a decoded JSON value, as produced by
// json.Unmarshal into an `any`) against schema. It returns the first
// mismatch found, depth-first.
func Validate(schema *Schema, raw any) error {
	if schema == nil {
		return nil
	}
	return validateValue(schema, raw, "$")
}

// ValidateJSON decodes data and validates it against schema.
func ValidateJSON(schema *Schema, data []byte) error {
	if schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Validate(schema, v)
}

func validateValue(schema *Schema, value any, path string) error {
	if schema.Enum != nil {
		if !containsAny(schema.Enum, value) {
			return &ValidationError{Path: path, Message: fmt.Sprintf("%s is not one of the allowed values", describe(value))}
		}
	}

	switch schema.Type {
	case "", "any":
		return nil
	case "object":
		return validateObject(schema, value, path)
	case "array":
		return validateArray(schema, value, path)
	case "string":
		if _, ok := value.(string); !ok {
			return typeErr(value, "string", path)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return typeErr(value, "number", path)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return typeErr(value, "integer", path)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeErr(value, "boolean", path)
		}
	}
	return nil
}

func validateObject(schema *Schema, value any, path string) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return typeErr(value, "object", path)
	}
	for _, name := range schema.Required {
		if _, present := obj[name]; !present {
			return &ValidationError{Path: path, Message: fmt.Sprintf("missing required property %q", name)}
		}
	}
	for name, propSchema := range schema.Properties {
		v, present := obj[name]
		if !present {
			continue
		}
		if err := validateValue(propSchema, v, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func validateArray(schema *Schema, value any, path string) error {
	arr, ok := value.([]any)
	if !ok {
		return typeErr(value, "array", path)
	}
	if schema.Items == nil {
		return nil
	}
	for i, item := range arr {
		if err := validateValue(schema.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// typeErr formats the message used throughout run-result validation:
// "Inconsistent value returned from action: <got> is not of type '<expected>'"
// The caller prepends the "Inconsistent value..." prefix where that exact
// wording applies (output-schema validation); input validation uses the
// bare message.
func typeErr(value any, expected, path string) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf("%s is not of type '%s'", describe(value), expected)}
}

func describe(value any) string {
	if value == nil {
		return "None"
	}
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func containsAny(options []any, value any) bool {
	for _, o := range options {
		if fmt.Sprintf("%v", o) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}
