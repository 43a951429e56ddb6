package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoParams struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Loud  bool   `json:"loud,omitempty"`
}

func echoTool() mcp.Tool {
	return mcp.NewTool("echo",
		mcp.WithDescription("Echo a name"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithNumber("count"),
		mcp.WithBoolean("loud"),
	)
}

func echoHandler() Handler {
	return Typed(func(_ context.Context, _ *State, p echoParams) (any, error) {
		return p, nil
	})
}

func TestRegister_AndCall(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoTool(), echoHandler()))

	tool, ok := r.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name())

	out, err := tool.Call(context.Background(), NewState("test", "default"), json.RawMessage(`{"name":"ada","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, echoParams{Name: "ada", Count: 2}, out)
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoTool(), echoHandler()))

	err := r.Register(echoTool(), echoHandler())
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_SchemaChecks(t *testing.T) {
	r := New()

	// Required name that is not declared.
	bad := mcp.NewTool("bad", mcp.WithString("a"))
	bad.InputSchema.Required = []string{"b"}
	assert.ErrorIs(t, r.Register(bad, Untyped(func(context.Context, *State, json.RawMessage) (any, error) { return nil, nil })), ErrInvalidSchema)

	// Declared property the typed handler cannot receive.
	extra := mcp.NewTool("extra", mcp.WithString("name"), mcp.WithString("color"))
	assert.ErrorIs(t, r.Register(extra, echoHandler()), ErrInvalidSchema)

	// No handler.
	assert.ErrorIs(t, r.Register(mcp.NewTool("nohandler"), Handler{}), ErrInvalidSchema)

	assert.Equal(t, 0, r.Len())
}

func TestList_Sorted(t *testing.T) {
	r := New()
	noop := Untyped(func(context.Context, *State, json.RawMessage) (any, error) { return nil, nil })
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(mcp.NewTool(name), noop))
	}

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestValidate(t *testing.T) {
	def := mcp.NewTool("v",
		mcp.WithString("s", mcp.Required()),
		mcp.WithNumber("n"),
		mcp.WithObject("o"),
		mcp.WithArray("a"),
		mcp.WithBoolean("b"),
		mcp.WithString("mode", mcp.Enum("fast", "slow")),
	)
	def.InputSchema.Properties["i"] = map[string]any{"type": "integer"}

	tests := []struct {
		name    string
		params  string
		wantErr bool
	}{
		{"valid minimal", `{"s":"x"}`, false},
		{"valid full", `{"s":"x","n":1.5,"o":{},"a":[1],"b":true,"i":3,"mode":"fast"}`, false},
		{"undeclared ignored", `{"s":"x","other":1}`, false},
		{"optional null ok", `{"s":"x","n":null}`, false},
		{"missing required", `{}`, true},
		{"null required", `{"s":null}`, true},
		{"empty params", ``, true},
		{"not an object", `[1,2]`, true},
		{"wrong string type", `{"s":1}`, true},
		{"wrong object type", `{"s":"x","o":"{}"}`, true},
		{"integer with fraction", `{"s":"x","i":1.5}`, true},
		{"enum mismatch", `{"s":"x","mode":"medium"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(def, json.RawMessage(tt.params))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_UntypedRequiredAcceptsNull(t *testing.T) {
	def := mcp.NewTool("store", mcp.WithString("key", mcp.Required()))
	def.InputSchema.Properties["value"] = map[string]any{"description": "any JSON value"}
	def.InputSchema.Required = append(def.InputSchema.Required, "value")

	assert.NoError(t, Validate(def, json.RawMessage(`{"key":"k","value":null}`)))
	assert.NoError(t, Validate(def, json.RawMessage(`{"key":"k","value":[1,"two"]}`)))
	assert.ErrorIs(t, Validate(def, json.RawMessage(`{"key":"k"}`)), ErrInvalidParams)
	assert.ErrorIs(t, Validate(def, json.RawMessage(`{"key":null,"value":1}`)), ErrInvalidParams)
}

func TestTyped_DecodeError(t *testing.T) {
	h := echoHandler()
	_, err := h.fn(context.Background(), nil, json.RawMessage(`{"count":"two"}`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestJSONFields(t *testing.T) {
	type inner struct {
		Shared string `json:"shared"`
	}
	type params struct {
		inner
		Plain   string
		Tagged  string `json:"tagged,omitempty"`
		Skipped string `json:"-"`
		hidden  string
	}

	fields := Typed(func(context.Context, *State, params) (any, error) { return nil, nil }).fields
	assert.Equal(t, map[string]bool{"shared": true, "Plain": true, "tagged": true}, fields)
}

func TestState_Switch(t *testing.T) {
	st := NewState("c1", "default")
	assert.Equal(t, "default", st.Namespace())

	prev := st.Switch("work", false)
	assert.Equal(t, "default", prev)
	assert.Equal(t, "", st.Previous(), "not preserved")

	prev = st.Switch("personal", true)
	assert.Equal(t, "work", prev)
	assert.Equal(t, "work", st.Previous())
	assert.Equal(t, "personal", st.Namespace())
}
