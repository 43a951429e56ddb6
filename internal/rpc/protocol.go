// Package rpc implements the JSON-RPC 2.0 envelope and the dispatcher that
// routes "execute" requests to registered tools.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only accepted jsonrpc value.
const Version = "2.0"

// MethodExecute is the single method clients call; the tool is named in params.
const MethodExecute = "execute"

// Error codes. -32001 and -32002 are server-defined codes from the reserved
// -32000..-32099 range.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeTimeout          = -32001
	CodeResourceNotFound = -32002
)

// Request is a decoded JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  *ExecuteParams  `json:"params,omitempty"`
}

// ExecuteParams names the tool and carries its arguments.
type ExecuteParams struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds an execute request for tool, marshaling parameters.
func NewRequest(id any, tool string, parameters any) ([]byte, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal id: %w", err)
	}
	var rawParams json.RawMessage
	if parameters != nil {
		rawParams, err = json.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal parameters: %w", err)
		}
	}
	return json.Marshal(Request{
		JSONRPC: Version,
		ID:      rawID,
		Method:  MethodExecute,
		Params:  &ExecuteParams{Tool: tool, Parameters: rawParams},
	})
}

func resultResponse(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, e *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: e}
}
