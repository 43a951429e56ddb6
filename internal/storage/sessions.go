package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/joescharf/continuity/internal/models"
)

func (b *FileBackend) sessionDir(id string) (string, error) {
	name, err := safeName("session_id", id)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, sessionsDir, name), nil
}

func (b *FileBackend) lockSession(id string) (func(), error) {
	return b.locks.acquire("session-" + id)
}

// loadSession reads session.json; the caller holds the session lock.
func (b *FileBackend) loadSession(dir, id string) (*models.Session, error) {
	var s models.Session
	if err := readJSON(filepath.Join(dir, metadataFile), &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	if s.Versions == nil {
		s.Versions = []*models.SessionVersion{}
	}
	return &s, nil
}

func (b *FileBackend) CreateSession(ctx context.Context, name string, metadata map[string]any) (*models.Session, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir, err := b.sessionDir(id)
	if err != nil {
		return nil, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	now := b.now()
	s := &models.Session{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		Versions:  []*models.SessionVersion{},
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), s); err != nil {
		return nil, fmt.Errorf("write session %s: %w", id, err)
	}
	return s, nil
}

func (b *FileBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	dir, err := b.sessionDir(id)
	if err != nil {
		return nil, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return nil, err
	}
	defer release()

	return b.loadSession(dir, id)
}

func (b *FileBackend) ListSessions(ctx context.Context) ([]*models.Session, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.root, sessionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*models.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var s models.Session
		if err := readJSON(filepath.Join(b.root, sessionsDir, entry.Name(), metadataFile), &s); err != nil {
			// Half-created or removed concurrently.
			continue
		}
		sessions = append(sessions, &s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (b *FileBackend) UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]any) (*models.Session, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	dir, err := b.sessionDir(id)
	if err != nil {
		return nil, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := b.loadSession(dir, id)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(s.Metadata, metadata)
		s.UpdatedAt = b.now()
		if err := writeJSON(filepath.Join(dir, metadataFile), s); err != nil {
			return nil, fmt.Errorf("write session %s: %w", id, err)
		}
	}
	return s, nil
}

func (b *FileBackend) WriteSessionVersion(ctx context.Context, id string, content []byte, level int) (*models.SessionVersion, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	codec, err := CodecForLevel(level)
	if err != nil {
		return nil, err
	}
	dir, err := b.sessionDir(id)
	if err != nil {
		return nil, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := b.loadSession(dir, id)
	if err != nil {
		return nil, err
	}

	encoded, err := codec.Encode(content)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", id, err)
	}

	n := s.LatestVersion() + 1
	v := &models.SessionVersion{
		Version:     n,
		SavedAt:     b.now(),
		Compression: level,
		Codec:       codec.Name(),
		File:        fmt.Sprintf("version_%d%s", n, codec.Suffix()),
		Size:        int64(len(encoded)),
		RawSize:     int64(len(content)),
	}

	// Version file first: the index only ever points at complete files.
	if err := atomicWriteFile(filepath.Join(dir, v.File), encoded, fileMode); err != nil {
		return nil, fmt.Errorf("write session %s version %d: %w", id, n, err)
	}

	s.Versions = append(s.Versions, v)
	s.UpdatedAt = v.SavedAt
	if err := writeJSON(filepath.Join(dir, metadataFile), s); err != nil {
		return nil, fmt.Errorf("write session %s: %w", id, err)
	}
	return v, nil
}

func (b *FileBackend) ReadSessionVersion(ctx context.Context, id string, version int) (*models.SessionSnapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: version %d", models.ErrInvalidArgument, version)
	}
	dir, err := b.sessionDir(id)
	if err != nil {
		return nil, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := b.loadSession(dir, id)
	if err != nil {
		return nil, err
	}

	if version == 0 {
		version = s.LatestVersion()
		if version == 0 {
			return nil, fmt.Errorf("session %s has no saved versions: %w", id, models.ErrNotFound)
		}
	}
	v, ok := s.Version(version)
	if !ok {
		return nil, fmt.Errorf("session %s version %d: %w", id, version, models.ErrNotFound)
	}

	codec, err := CodecByName(v.Codec)
	if err != nil {
		return nil, err
	}
	encoded, err := os.ReadFile(filepath.Join(dir, v.File))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s version %d file: %w", id, version, models.ErrNotFound)
		}
		return nil, fmt.Errorf("read session %s version %d: %w", id, version, err)
	}
	content, err := codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode session %s version %d: %w", id, version, err)
	}

	return &models.SessionSnapshot{Session: s, Version: v, Content: content}, nil
}

func (b *FileBackend) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	dir, err := b.sessionDir(id)
	if err != nil {
		return false, err
	}

	release, err := b.lockSession(id)
	if err != nil {
		return false, err
	}
	defer release()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat session %s: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return true, nil
}
