package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joescharf/continuity/internal/registry"
)

// tool_list
func toolListTool() mcp.Tool {
	return mcp.NewTool("tool_list",
		mcp.WithDescription("List every registered tool with its input schema."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listTools(reg *registry.Registry) func(context.Context, *registry.State, noParams) (any, error) {
	return func(_ context.Context, _ *registry.State, _ noParams) (any, error) {
		defs := reg.List()
		return map[string]any{
			"tools": defs,
			"count": len(defs),
		}, nil
	}
}
