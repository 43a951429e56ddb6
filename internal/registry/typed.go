package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Typed builds a handler whose parameters are decoded into P. P must be a
// struct; its JSON field names are checked against the tool schema at
// registration time.
func Typed[P any](fn func(ctx context.Context, st *State, p P) (any, error)) Handler {
	return Handler{
		fn: func(ctx context.Context, st *State, params json.RawMessage) (any, error) {
			var p P
			if !isEmptyParams(params) {
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
				}
			}
			return fn(ctx, st, p)
		},
		fields: jsonFields(reflect.TypeFor[P]()),
	}
}

func isEmptyParams(params json.RawMessage) bool {
	trimmed := bytes.TrimSpace(params)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// jsonFields returns the JSON names of a struct's exported fields.
func jsonFields(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields := make(map[string]bool)
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			for name := range jsonFields(f.Type) {
				fields[name] = true
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields[name] = true
	}
	return fields
}
