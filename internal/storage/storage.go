// Package storage persists sessions and context entries as JSON files under a
// single root directory, so external tooling can snapshot the whole tree.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/continuity/internal/models"
)

// Backend defines the persistence interface for sessions and contexts.
type Backend interface {
	// Sessions
	CreateSession(ctx context.Context, name string, metadata map[string]any) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]any) (*models.Session, error)
	WriteSessionVersion(ctx context.Context, id string, content []byte, level int) (*models.SessionVersion, error)
	ReadSessionVersion(ctx context.Context, id string, version int) (*models.SessionSnapshot, error)
	DeleteSession(ctx context.Context, id string) (bool, error)

	// Contexts
	WriteContext(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (*models.ContextEntry, error)
	ReadContext(ctx context.Context, namespace, key string) (*models.ContextEntry, error)
	DeleteContext(ctx context.Context, namespace, key string) (bool, error)
	ListContexts(ctx context.Context, namespace string, includeExpired bool) ([]*models.ContextEntry, error)
	ListNamespaces(ctx context.Context) ([]string, error)
	PurgeExpired(ctx context.Context, namespace string) (int, error)

	// Root returns the directory holding all persisted state.
	Root() string
}

const (
	sessionsDir  = "sessions"
	contextsDir  = "contexts"
	locksDir     = "locks"
	metadataFile = "session.json"

	dirMode  = 0755
	fileMode = 0644
)

// FileBackend implements Backend on the local filesystem.
type FileBackend struct {
	root  string
	locks *lockSet

	// Now is the clock used for timestamps and TTL checks.
	Now func() time.Time
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend opens (or creates) a backend rooted at root.
func NewFileBackend(root string) (*FileBackend, error) {
	root = filepath.Clean(root)
	for _, dir := range []string{sessionsDir, contextsDir, locksDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), dirMode); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	return &FileBackend{
		root:  root,
		locks: newLockSet(filepath.Join(root, locksDir)),
		Now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Root returns the storage root directory.
func (b *FileBackend) Root() string {
	return b.root
}

func (b *FileBackend) now() time.Time {
	return b.Now().UTC()
}

// safeName validates a caller-supplied path component and escapes it.
func safeName(kind, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: %s is empty", models.ErrInvalidArgument, kind)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid %s %q", models.ErrInvalidArgument, kind, name)
	}
	return url.PathEscape(name), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return atomicWriteFile(path, data, fileMode)
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
