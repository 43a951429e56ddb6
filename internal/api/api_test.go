package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/rpc"
	"github.com/joescharf/continuity/internal/storage"
	"github.com/joescharf/continuity/internal/tools"
	"github.com/joescharf/continuity/internal/transport"
)

func setupTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, tools.NewService(backend).Register(reg))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := rpc.NewDispatcher(reg, rpc.WithLogger(logger), rpc.WithRedactedPath(backend.Root()))
	return NewServer(d, models.DefaultNamespace, "test", logger, opts...)
}

func postRPC(t *testing.T, h http.Handler, clientID, tool string, params any) (*httptest.ResponseRecorder, rpc.Response) {
	t.Helper()
	body, err := rpc.NewRequest(1, tool, params)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	if clientID != "" {
		req.Header.Set(ClientHeader, clientID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestRPC_SessionRoundTrip(t *testing.T) {
	router := setupTestServer(t).Router()

	w, resp := postRPC(t, router, "", "session_create", map[string]any{"name": "http"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Nil(t, resp.Error)

	var created map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	id := created["session_id"].(string)

	_, resp = postRPC(t, router, "", "session_save", map[string]any{"session_id": id, "content": map[string]any{"step": 1}})
	require.Nil(t, resp.Error)

	_, resp = postRPC(t, router, "", "session_restore", map[string]any{"session_id": id})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"content":{"step":1}`)
}

func TestRPC_ErrorsAreHTTP200(t *testing.T) {
	router := setupTestServer(t).Router()

	w, resp := postRPC(t, router, "", "nonexistent_tool", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "nonexistent_tool")

	req := httptest.NewRequest("POST", "/rpc", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var parsed rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, rpc.CodeParseError, parsed.Error.Code)
}

func TestRPC_BodyTooLarge(t *testing.T) {
	router := setupTestServer(t).Router()

	req := httptest.NewRequest("POST", "/rpc", strings.NewReader(strings.Repeat(" ", transport.MaxLineSize+1)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)
}

func TestRPC_MethodNotAllowed(t *testing.T) {
	router := setupTestServer(t).Router()

	req := httptest.NewRequest("GET", "/rpc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRPC_ClientScopedNamespace(t *testing.T) {
	router := setupTestServer(t).Router()

	_, resp := postRPC(t, router, "alice", "context_switch", map[string]any{"target_context": "alice-work"})
	require.Nil(t, resp.Error)
	_, resp = postRPC(t, router, "alice", "context_store", map[string]any{"key": "k", "value": "a"})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"namespace":"alice-work"`)

	_, resp = postRPC(t, router, "bob", "context_store", map[string]any{"key": "k", "value": "b"})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"namespace":"default"`)

	_, resp = postRPC(t, router, "alice", "context_retrieve", map[string]any{"key": "k"})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"value":"a"`)
}

func TestRPC_IdleClientsDropped(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	srv := setupTestServer(t, WithClientIdleTimeout(10*time.Minute), WithClock(func() time.Time { return now }))
	router := srv.Router()
	clientCount := func() int {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.clients)
	}

	_, resp := postRPC(t, router, "alice", "context_switch", map[string]any{"target_context": "alice-work"})
	require.Nil(t, resp.Error)
	postRPC(t, router, "bob", "session_list", nil)
	assert.Equal(t, 2, clientCount())

	now = now.Add(6 * time.Minute)
	postRPC(t, router, "bob", "session_list", nil)
	assert.Equal(t, 2, clientCount())

	now = now.Add(5 * time.Minute)
	postRPC(t, router, "carol", "session_list", nil)
	assert.Equal(t, 2, clientCount(), "alice idled past the timeout")

	_, resp = postRPC(t, router, "alice", "context_store", map[string]any{"key": "k", "value": 1})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"namespace":"default"`)
}

func TestRPC_NoIdleTimeoutKeepsClients(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	srv := setupTestServer(t, WithClientIdleTimeout(0), WithClock(func() time.Time { return now }))
	router := srv.Router()

	postRPC(t, router, "alice", "session_list", nil)
	now = now.Add(24 * time.Hour)
	postRPC(t, router, "bob", "session_list", nil)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.clients, 2)
}

func TestListTools(t *testing.T) {
	router := setupTestServer(t).Router()

	req := httptest.NewRequest("GET", "/api/v1/tools", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 11, body.Count)
	assert.Equal(t, "context_delete", body.Tools[0].Name)
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t)
	router := srv.Router()
	postRPC(t, router, "someone", "session_list", nil)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 11, body["tools"])
	assert.EqualValues(t, 1, body["clients"])
}

func TestCORSPreflight(t *testing.T) {
	router := setupTestServer(t).Router()

	req := httptest.NewRequest("OPTIONS", "/rpc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ClientHeader)
}

func TestServer_ListenAndServe(t *testing.T) {
	ts := httptest.NewServer(setupTestServer(t).Router())
	defer ts.Close()

	body, err := rpc.NewRequest("x", "session_list", nil)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), "POST", ts.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.JSONEq(t, `"x"`, string(out.ID))
	assert.Nil(t, out.Error)
}
