// Package mcp exposes the tool registry to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/rpc"
)

const defaultSessionID = "mcp"

// Server bridges MCP tool calls onto the dispatcher so both protocols share
// validation, timeouts, and error classification.
type Server struct {
	dispatcher *rpc.Dispatcher
	namespace  string
	version    string

	mu     sync.Mutex
	states map[string]*registry.State
}

// NewServer creates the MCP bridge. Each MCP session starts in namespace.
func NewServer(d *rpc.Dispatcher, namespace, version string) *Server {
	return &Server{
		dispatcher: d,
		namespace:  namespace,
		version:    version,
		states:     make(map[string]*registry.State),
	}
}

// MCPServer returns a configured mcp-go server with every registered tool.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("continuity", s.version, server.WithToolCapabilities(true))
	for _, def := range s.dispatcher.Registry().List() {
		srv.AddTool(def, s.handler(def.Name))
	}
	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled or
// in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, in, out)
}

func (s *Server) state(ctx context.Context) *registry.State {
	id := defaultSessionID
	if session := server.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		id = session.SessionID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = registry.NewState(id, s.namespace)
		s.states[id] = st
	}
	return st
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result, rpcErr := s.dispatcher.Invoke(ctx, s.state(ctx), name, args)
		if rpcErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s (code %d)", rpcErr.Message, rpcErr.Code)), nil
		}

		data, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
