package util

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports a schema violation in a structured payload.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// CreateSchema creates a JSON schema from a Go struct using reflection.
// Fields tagged `json:"-"` are skipped; fields with omitempty or pointer
// types are optional, everything else is required. A `description` tag is
// copied into the schema when present.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		if jsonTag != "" {
			if p := strings.Split(jsonTag, ",")[0]; p != "" {
				name = p
			}
		}

		fieldSchema := map[string]any{"type": jsonType(field.Type)}
		if desc := field.Tag.Get("description"); desc != "" {
			fieldSchema["description"] = desc
		}
		properties[name] = fieldSchema

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArraySchema wraps an item schema into an array schema.
func ArraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

// ValidateJSON checks a raw JSON document against a schema. Only object
// and array-of-object schemas are enforced: required fields must be
// present and typed fields must match. Extra fields are allowed.
func ValidateJSON(raw []byte, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	schemaType, _ := schema["type"].(string)
	switch schemaType {
	case "array":
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return &ValidationError{Message: fmt.Sprintf("expected JSON array: %v", err)}
		}
		itemSchema, _ := schema["items"].(map[string]any)
		for i, item := range items {
			if err := validateObject(item, itemSchema); err != nil {
				return &ValidationError{Field: fmt.Sprintf("[%d]", i), Message: err.Error()}
			}
		}
		return nil
	default:
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return &ValidationError{Message: fmt.Sprintf("expected JSON object: %v", err)}
		}
		return validateObject(obj, schema)
	}
}

func validateObject(obj, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	required := requiredFields(schema)
	for _, name := range required {
		if _, ok := obj[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range obj {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		expected, _ := propSchema["type"].(string)
		if !isValidType(value, expected) {
			return &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expected, value),
			}
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func isValidType(value any, expected string) bool {
	if value == nil {
		return true
	}
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		// JSON unmarshaling produces float64 for all numbers.
		if f, ok := value.(float64); ok {
			return f == float64(int64(f))
		}
		return false
	case "number":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
