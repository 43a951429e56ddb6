package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/rpc"
	"github.com/joescharf/continuity/internal/transport"
)

// ClientHeader names the header that scopes connection state over HTTP.
const ClientHeader = "X-Continuity-Client"

const defaultClientID = "default"

// DefaultClientIdleTimeout is how long an idle client's state is kept.
const DefaultClientIdleTimeout = 30 * time.Minute

// client is the per-client-id connection: its state and a lock that keeps
// its requests strictly sequential. active and lastSeen are guarded by
// Server.mu.
type client struct {
	mu    sync.Mutex
	state *registry.State

	active   int
	lastSeen time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClientIdleTimeout drops a client's state after d without requests.
// Zero keeps clients for the life of the server.
func WithClientIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithClock sets the clock used for client idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server provides the HTTP transport handlers.
type Server struct {
	dispatcher *rpc.Dispatcher
	namespace  string
	version    string
	logger     *slog.Logger
	started    time.Time

	idleTimeout time.Duration
	now         func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// NewServer creates a new HTTP server over d. New clients start in namespace.
func NewServer(d *rpc.Dispatcher, namespace, version string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatcher:  d,
		namespace:   namespace,
		version:     version,
		logger:      logger,
		idleTimeout: DefaultClientIdleTimeout,
		now:         time.Now,
		clients:     make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// Router returns an http.Handler for the transport routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("GET /api/v1/tools", s.listTools)
	mux.HandleFunc("GET /api/v1/health", s.health)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ClientHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// acquire returns the client for id, creating it on first use, and marks it
// busy until release.
func (s *Server) acquire(id string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	c, ok := s.clients[id]
	if !ok {
		c = &client{state: registry.NewState(id, s.namespace)}
		s.clients[id] = c
	}
	c.active++
	return c
}

func (s *Server) release(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.active--
	c.lastSeen = s.now()
}

// sweep drops idle clients, at most once per half idle timeout. The caller
// holds s.mu.
func (s *Server) sweep() {
	if s.idleTimeout <= 0 {
		return
	}
	now := s.now()
	if now.Sub(s.lastSweep) < s.idleTimeout/2 {
		return
	}
	s.lastSweep = now
	for id, c := range s.clients {
		if c.active == 0 && now.Sub(c.lastSeen) > s.idleTimeout {
			delete(s.clients, id)
			s.logger.Debug("dropped idle client", "client", id)
		}
	}
}

func clientID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(ClientHeader))
	if id == "" {
		return defaultClientID
	}
	return id
}

// handleRPC answers with HTTP 200 for every JSON-RPC outcome, errors included.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, transport.MaxLineSize))
	if err != nil {
		msg := "invalid request: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "invalid request: body too large"
		}
		writeJSON(w, http.StatusOK, &rpc.Response{
			JSONRPC: rpc.Version,
			Error:   &rpc.Error{Code: rpc.CodeInvalidRequest, Message: msg},
		})
		return
	}

	id := clientID(r)
	c := s.acquire(id)
	c.mu.Lock()
	resp := s.dispatcher.Handle(r.Context(), c.state, body)
	c.mu.Unlock()
	s.release(c)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	defs := s.dispatcher.Registry().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": defs,
		"count": len(defs),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	clients := len(s.clients)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"tools":   s.dispatcher.Registry().Len(),
		"clients": clients,
		"uptime":  s.now().Sub(s.started).Round(time.Second).String(),
	})
}
