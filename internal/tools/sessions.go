package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/storage"
)

// session_create
func sessionCreateTool() mcp.Tool {
	return mcp.NewTool("session_create",
		mcp.WithDescription("Create a new session. Returns the generated session_id."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable session name")),
		mcp.WithObject("metadata", mcp.Description("Arbitrary key/value metadata")),
	)
}

type sessionCreateParams struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Service) handleSessionCreate(ctx context.Context, _ *registry.State, p sessionCreateParams) (any, error) {
	sess, err := s.backend.CreateSession(ctx, p.Name, p.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": sess.ID,
		"name":       sess.Name,
		"created_at": formatTime(sess.CreatedAt),
	}, nil
}

// session_save
func sessionSaveTool() mcp.Tool {
	return mcp.NewTool("session_save",
		mcp.WithDescription("Append a new version of the session content. Versions are numbered from 1 and never change once written."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by session_create")),
		withAny("content", mcp.Required(), mcp.Description("Session content, any JSON value")),
		mcp.WithNumber("compression_level",
			mcp.Description("0 none, 1 gzip fast, 2 gzip best, 3 zstd"),
			mcp.DefaultNumber(0), mcp.Min(0), mcp.Max(storage.MaxCompressionLevel)),
		mcp.WithObject("metadata", mcp.Description("Metadata merged into the session metadata")),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

type sessionSaveParams struct {
	SessionID        string          `json:"session_id"`
	Content          json.RawMessage `json:"content"`
	CompressionLevel int             `json:"compression_level"`
	Metadata         map[string]any  `json:"metadata"`
}

func (s *Service) handleSessionSave(ctx context.Context, _ *registry.State, p sessionSaveParams) (any, error) {
	if p.CompressionLevel < 0 || p.CompressionLevel > storage.MaxCompressionLevel {
		return nil, invalidArg("compression_level must be between 0 and %d", storage.MaxCompressionLevel)
	}

	v, err := s.backend.WriteSessionVersion(ctx, p.SessionID, rawValue(p.Content), p.CompressionLevel)
	if err != nil {
		return nil, err
	}
	if len(p.Metadata) > 0 {
		if _, err := s.backend.UpdateSessionMetadata(ctx, p.SessionID, p.Metadata); err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
	}
	return map[string]any{
		"success":     true,
		"session_id":  p.SessionID,
		"version":     v.Version,
		"saved_at":    formatTime(v.SavedAt),
		"size":        v.Size,
		"compression": v.Codec,
	}, nil
}

// session_restore
func sessionRestoreTool() mcp.Tool {
	return mcp.NewTool("session_restore",
		mcp.WithDescription("Restore a saved session version. Defaults to the latest version."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithNumber("version", mcp.Description("Version number; omit for latest"), mcp.Min(1)),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type sessionRestoreParams struct {
	SessionID string `json:"session_id"`
	Version   int    `json:"version"`
}

func (s *Service) handleSessionRestore(ctx context.Context, _ *registry.State, p sessionRestoreParams) (any, error) {
	if p.Version < 0 {
		return nil, invalidArg("version must be positive")
	}
	snap, err := s.backend.ReadSessionVersion(ctx, p.SessionID, p.Version)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"session_id": snap.Session.ID,
		"name":       snap.Session.Name,
		"content":    snap.Content,
		"metadata":   metadataOrEmpty(snap.Session.Metadata),
		"version":    snap.Version.Version,
		"saved_at":   formatTime(snap.Version.SavedAt),
	}, nil
}

// session_list
func sessionListTool() mcp.Tool {
	return mcp.NewTool("session_list",
		mcp.WithDescription("List all sessions, most recently updated first."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type noParams struct{}

func (s *Service) handleSessionList(ctx context.Context, _ *registry.State, _ noParams) (any, error) {
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary(sess))
	}
	return map[string]any{
		"sessions": out,
		"count":    len(out),
	}, nil
}

func sessionSummary(sess *models.Session) map[string]any {
	return map[string]any{
		"session_id":     sess.ID,
		"name":           sess.Name,
		"created_at":     formatTime(sess.CreatedAt),
		"updated_at":     formatTime(sess.UpdatedAt),
		"version_count":  len(sess.Versions),
		"latest_version": sess.LatestVersion(),
		"metadata":       metadataOrEmpty(sess.Metadata),
	}
}

// session_delete
func sessionDeleteTool() mcp.Tool {
	return mcp.NewTool("session_delete",
		mcp.WithDescription("Delete a session and all of its versions. Deleting an unknown session succeeds."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

type sessionDeleteParams struct {
	SessionID string `json:"session_id"`
}

func (s *Service) handleSessionDelete(ctx context.Context, _ *registry.State, p sessionDeleteParams) (any, error) {
	existed, err := s.backend.DeleteSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"session_id": p.SessionID,
		"existed":    existed,
	}, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
