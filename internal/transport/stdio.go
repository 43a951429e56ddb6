// Package transport runs the dispatcher over newline-delimited JSON streams.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/rpc"
)

// MaxLineSize bounds a single request line.
const MaxLineSize = 16 << 20

// Stdio serves one connection: a request per line in, a response per line out.
type Stdio struct {
	Dispatcher *rpc.Dispatcher
	Namespace  string
	Logger     *slog.Logger
}

// Serve processes requests from r until EOF or ctx is cancelled. Each request
// is answered before the next line is taken. Cancellation is noticed while
// waiting for input, so an idle connection stops on shutdown; the reader
// goroutine is then left blocked until r is closed.
func (s *Stdio) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := registry.NewState("stdio", s.Namespace)
	out := bufio.NewWriter(w)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	logger.Info("stdio transport ready")
	for {
		select {
		case <-ctx.Done():
			logger.Info("stdio transport stopped", "reason", ctx.Err())
			return ctx.Err()

		case err := <-readErr:
			if err == nil {
				logger.Info("stdio transport closed")
				return nil
			}
			if errors.Is(err, bufio.ErrTooLong) {
				// The stream cannot be resynchronized past an oversized line.
				_ = writeResponse(out, &rpc.Response{
					JSONRPC: rpc.Version,
					Error:   &rpc.Error{Code: rpc.CodeInvalidRequest, Message: fmt.Sprintf("invalid request: line exceeds %d bytes", MaxLineSize)},
				})
			}
			return fmt.Errorf("read request: %w", err)

		case line := <-lines:
			resp := s.Dispatcher.Handle(ctx, st, line)
			if err := writeResponse(out, resp); err != nil {
				return err
			}
		}
	}
}

func writeResponse(w *bufio.Writer, resp *rpc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(&rpc.Response{
			JSONRPC: rpc.Version,
			ID:      resp.ID,
			Error:   &rpc.Error{Code: rpc.CodeInternalError, Message: "internal error: encode response"},
		})
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return w.Flush()
}
