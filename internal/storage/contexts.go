package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/continuity/internal/models"
)

const contextSuffix = ".json"

func (b *FileBackend) namespaceDir(namespace string) (string, error) {
	name, err := safeName("namespace", namespace)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, contextsDir, name), nil
}

func (b *FileBackend) contextPath(namespace, key string) (string, error) {
	dir, err := b.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	name, err := safeName("key", key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+contextSuffix), nil
}

func (b *FileBackend) lockNamespace(namespace string) (func(), error) {
	return b.locks.acquire("context-" + namespace)
}

func (b *FileBackend) WriteContext(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (*models.ContextEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	path, err := b.contextPath(namespace, key)
	if err != nil {
		return nil, err
	}

	release, err := b.lockNamespace(namespace)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("create namespace directory: %w", err)
	}

	now := b.now()
	entry := &models.ContextEntry{
		Key:       key,
		Namespace: namespace,
		Value:     value,
		StoredAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}

	if err := writeJSON(path, entry); err != nil {
		return nil, fmt.Errorf("write context %s/%s: %w", namespace, key, err)
	}
	return entry, nil
}

func (b *FileBackend) ReadContext(ctx context.Context, namespace, key string) (*models.ContextEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	path, err := b.contextPath(namespace, key)
	if err != nil {
		return nil, err
	}

	release, err := b.lockNamespace(namespace)
	if err != nil {
		return nil, err
	}
	defer release()

	var entry models.ContextEntry
	if err := readJSON(path, &entry); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("context %s/%s: %w", namespace, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("read context %s/%s: %w", namespace, key, err)
	}

	if entry.Expired(b.now()) {
		_ = os.Remove(path)
		return nil, fmt.Errorf("context %s/%s expired: %w", namespace, key, models.ErrNotFound)
	}
	return &entry, nil
}

func (b *FileBackend) DeleteContext(ctx context.Context, namespace, key string) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	path, err := b.contextPath(namespace, key)
	if err != nil {
		return false, err
	}

	release, err := b.lockNamespace(namespace)
	if err != nil {
		return false, err
	}
	defer release()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete context %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

func (b *FileBackend) ListContexts(ctx context.Context, namespace string, includeExpired bool) ([]*models.ContextEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	dir, err := b.namespaceDir(namespace)
	if err != nil {
		return nil, err
	}

	release, err := b.lockNamespace(namespace)
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := b.readNamespace(dir)
	if err != nil {
		return nil, fmt.Errorf("list contexts %s: %w", namespace, err)
	}

	now := b.now()
	out := entries[:0]
	for _, e := range entries {
		if !includeExpired && e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// readNamespace loads every entry in dir sorted by key; the caller holds the
// namespace lock.
func (b *FileBackend) readNamespace(dir string) ([]*models.ContextEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []*models.ContextEntry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), contextSuffix) {
			continue
		}
		var e models.ContextEntry
		if err := readJSON(filepath.Join(dir, f.Name()), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *FileBackend) ListNamespaces(ctx context.Context) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(filepath.Join(b.root, contextsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	var namespaces []string
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		name, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		namespaces = append(namespaces, name)
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// PurgeExpired removes expired entries from namespace, or from every
// namespace when namespace is empty, and returns how many were removed.
func (b *FileBackend) PurgeExpired(ctx context.Context, namespace string) (int, error) {
	namespaces := []string{namespace}
	if namespace == "" {
		var err error
		namespaces, err = b.ListNamespaces(ctx)
		if err != nil {
			return 0, err
		}
	}

	removed := 0
	for _, ns := range namespaces {
		n, err := b.purgeNamespace(ctx, ns)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *FileBackend) purgeNamespace(ctx context.Context, namespace string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	dir, err := b.namespaceDir(namespace)
	if err != nil {
		return 0, err
	}

	release, err := b.lockNamespace(namespace)
	if err != nil {
		return 0, err
	}
	defer release()

	entries, err := b.readNamespace(dir)
	if err != nil {
		return 0, fmt.Errorf("purge contexts %s: %w", namespace, err)
	}

	now := b.now()
	removed := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		path, err := b.contextPath(namespace, e.Key)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("purge context %s/%s: %w", namespace, e.Key, err)
		}
		removed++
	}
	return removed, nil
}
