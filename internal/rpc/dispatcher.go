package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
)

// Phase names the dispatcher states a request moves through.
type Phase string

const (
	PhaseAwaiting    Phase = "awaiting_request"
	PhaseParsing     Phase = "parsing"
	PhaseDispatching Phase = "dispatching"
	PhaseResponding  Phase = "responding"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

var errTimeout = errors.New("tool call timed out")

// Dispatcher turns request lines into responses. Handle never panics and
// never returns nil, so a transport loop can always write its result.
type Dispatcher struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   *slog.Logger
	redact   []string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call timeout; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithLogger sets the logger used for call tracing.
func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

// WithRedactedPath replaces path in error messages with "<root>".
func WithRedactedPath(path string) Option {
	return func(disp *Dispatcher) {
		if path != "" {
			disp.redact = append(disp.redact, path)
		}
	}
}

// NewDispatcher creates a dispatcher over reg.
func NewDispatcher(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher routes to.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Handle runs one request line through parse, dispatch, and response.
func (d *Dispatcher) Handle(ctx context.Context, st *registry.State, line []byte) *Response {
	req, rpcErr := parseRequest(line)
	if rpcErr != nil {
		d.logger.Warn("rejected request", "phase", PhaseParsing, "code", rpcErr.Code, "error", rpcErr.Message)
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		return errorResponse(id, rpcErr)
	}

	result, rpcErr := d.Invoke(ctx, st, req.Params.Tool, req.Params.Parameters)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, &Error{Code: CodeInternalError, Message: "internal error: encode result: " + d.sanitize(err.Error())})
	}
	return resultResponse(req.ID, data)
}

// Invoke looks up and calls a tool, mapping every failure to an *Error. The
// MCP bridge calls it directly so both protocols share one code path.
func (d *Dispatcher) Invoke(ctx context.Context, st *registry.State, name string, params json.RawMessage) (any, *Error) {
	tool, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Warn("unknown tool", "phase", PhaseDispatching, "tool", name)
		return nil, &Error{Code: CodeMethodNotFound, Message: "tool not found: " + name}
	}

	start := time.Now()
	result, err := d.call(ctx, tool, st, params)
	elapsed := time.Since(start)

	client := ""
	if st != nil {
		client = st.ClientID
	}

	if err != nil {
		rpcErr := d.classify(name, err)
		d.logger.Warn("tool failed", "tool", name, "client", client, "code", rpcErr.Code, "error", rpcErr.Message, "duration", elapsed)
		return nil, rpcErr
	}
	d.logger.Debug("tool ok", "tool", name, "client", client, "duration", elapsed)
	return result, nil
}

// call runs the tool on its own goroutine so a hung handler is cut off by the
// timeout and a panic becomes an error.
func (d *Dispatcher) call(ctx context.Context, tool *registry.Tool, st *registry.State, params json.RawMessage) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in %s: %v", tool.Name(), r)}
			}
		}()
		result, err := tool.Call(ctx, st, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errTimeout
		}
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) classify(name string, err error) *Error {
	msg := d.sanitize(err.Error())
	switch {
	case errors.Is(err, errTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: fmt.Sprintf("timeout: %s exceeded %s", name, d.timeout)}
	case errors.Is(err, models.ErrNotFound):
		return &Error{Code: CodeResourceNotFound, Message: "resource not found: " + msg}
	case errors.Is(err, registry.ErrInvalidParams),
		errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrInvalidState):
		if !strings.HasPrefix(msg, "invalid params") {
			msg = "invalid params: " + msg
		}
		return &Error{Code: CodeInvalidParams, Message: msg}
	default:
		return &Error{Code: CodeInternalError, Message: "internal error: " + msg}
	}
}

func (d *Dispatcher) sanitize(msg string) string {
	for _, p := range d.redact {
		msg = strings.ReplaceAll(msg, p, "<root>")
	}
	return msg
}

// parseRequest validates the envelope. A non-nil request is returned with an
// error whenever the id could be recovered, so the error can echo it.
func parseRequest(line []byte) (*Request, *Error) {
	line = bytes.TrimSpace(line)
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, &Error{Code: CodeParseError, Message: "parse error: " + err.Error()}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request: expected a JSON object"}
	}

	req := &Request{}
	if raw, ok := fields["id"]; ok {
		req.ID = raw
	}

	invalid := func(format string, a ...any) (*Request, *Error) {
		return req, &Error{Code: CodeInvalidRequest, Message: "invalid request: " + fmt.Sprintf(format, a...)}
	}

	if raw, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &req.JSONRPC); err != nil || req.JSONRPC != Version {
			return invalid("jsonrpc must be %q", Version)
		}
	} else {
		req.JSONRPC = Version
	}

	raw, ok := fields["method"]
	if !ok {
		return invalid("missing method")
	}
	if err := json.Unmarshal(raw, &req.Method); err != nil || req.Method == "" {
		return invalid("method must be a non-empty string")
	}
	if req.Method != MethodExecute {
		return req, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	raw, ok = fields["params"]
	if !ok {
		return invalid("missing params")
	}
	var params ExecuteParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return invalid("params must be an object with a tool name")
	}
	if params.Tool == "" {
		return invalid("missing params.tool")
	}
	req.Params = &params
	return req, nil
}
