package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// checkSchema verifies a description before it is accepted: the input must be
// an object, required names must be declared, and a typed handler must have a
// field for every declared property.
func checkSchema(def mcp.Tool, fields map[string]bool) error {
	schema := def.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return fmt.Errorf("%w: %s input type %q, want object", ErrInvalidSchema, def.Name, schema.Type)
	}
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; !ok {
			return fmt.Errorf("%w: %s requires undeclared property %q", ErrInvalidSchema, def.Name, name)
		}
	}
	for name, prop := range schema.Properties {
		if _, ok := prop.(map[string]any); !ok {
			return fmt.Errorf("%w: %s property %q is not an object schema", ErrInvalidSchema, def.Name, name)
		}
		if fields != nil && !fields[name] {
			return fmt.Errorf("%w: %s declares %q but the handler has no such field", ErrInvalidSchema, def.Name, name)
		}
	}
	return nil
}

// Validate checks params against the tool's input schema. Missing required
// properties and JSON type mismatches fail; undeclared properties are ignored.
// A null counts as missing unless the property declares no type, in which
// case null is a value like any other.
func Validate(def mcp.Tool, params json.RawMessage) error {
	args := map[string]json.RawMessage{}
	if !isEmptyParams(params) {
		if err := json.Unmarshal(params, &args); err != nil {
			return fmt.Errorf("%w: parameters must be a JSON object", ErrInvalidParams)
		}
	}

	var missing []string
	for _, name := range def.InputSchema.Required {
		raw, ok := args[name]
		if !ok || (isEmptyParams(raw) && declaredType(def, name) != "") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing required %s", ErrInvalidParams, def.Name, strings.Join(missing, ", "))
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := def.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		raw := args[name]
		if want == "" || isEmptyParams(raw) {
			continue
		}
		if got := jsonType(raw); !typeMatches(want, got, raw) {
			return fmt.Errorf("%w: %s: %q must be %s, got %s", ErrInvalidParams, def.Name, name, want, got)
		}
		if enum, ok := prop["enum"].([]string); ok && want == "string" {
			var s string
			_ = json.Unmarshal(raw, &s)
			if !contains(enum, s) {
				return fmt.Errorf("%w: %s: %q must be one of %s", ErrInvalidParams, def.Name, name, strings.Join(enum, ", "))
			}
		}
	}
	return nil
}

func declaredType(def mcp.Tool, name string) string {
	prop, _ := def.InputSchema.Properties[name].(map[string]any)
	want, _ := prop["type"].(string)
	return want
}

func jsonType(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	switch c := trimmed[0]; {
	case c == '"':
		return "string"
	case c == '{':
		return "object"
	case c == '[':
		return "array"
	case c == 't' || c == 'f':
		return "boolean"
	case c == 'n':
		return "null"
	default:
		return "number"
	}
}

func typeMatches(want, got string, raw json.RawMessage) bool {
	switch want {
	case "integer":
		if got != "number" {
			return false
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return false
		}
		return f == math.Trunc(f)
	default:
		return want == got
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
