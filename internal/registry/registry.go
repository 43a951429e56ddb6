// Package registry maps tool names to typed handlers and the mcp.Tool
// descriptions clients use for discovery. Descriptions are validated when a
// tool is registered and arguments are checked against them on every call.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

var (
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidSchema is returned for a description that cannot be enforced.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrInvalidParams is returned when call arguments do not match the schema.
	ErrInvalidParams = errors.New("invalid params")
)

// HandlerFunc is the untyped form every tool is reduced to.
type HandlerFunc func(ctx context.Context, st *State, params json.RawMessage) (any, error)

// Handler is an invokable tool body. Fields lists the JSON parameter names
// the handler understands; nil means it accepts anything.
type Handler struct {
	fn     HandlerFunc
	fields map[string]bool
}

// Untyped wraps a raw handler that decodes its own parameters.
func Untyped(fn HandlerFunc) Handler {
	return Handler{fn: fn}
}

// Tool is a registered tool: its description and handler.
type Tool struct {
	Definition mcp.Tool
	handler    Handler
}

// Name returns the tool name.
func (t *Tool) Name() string {
	return t.Definition.Name
}

// Call validates params against the tool schema and invokes the handler.
func (t *Tool) Call(ctx context.Context, st *State, params json.RawMessage) (any, error) {
	if err := Validate(t.Definition, params); err != nil {
		return nil, err
	}
	return t.handler.fn(ctx, st, params)
}

// Registry holds the registered tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are rejected rather than overwritten.
func (r *Registry) Register(def mcp.Tool, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("%w: tool name is empty", ErrInvalidSchema)
	}
	if h.fn == nil {
		return fmt.Errorf("%w: tool %s has no handler", ErrInvalidSchema, def.Name)
	}
	if err := checkSchema(def, h.fields); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = &Tool{Definition: def, handler: h}
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(def mcp.Tool, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic(err)
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tool descriptions sorted by name.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
