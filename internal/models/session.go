package models

import (
	"encoding/json"
	"time"
)

// Session is a named, versioned container of conversational state.
type Session struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Versions  []*SessionVersion `json:"versions"`
}

// SessionVersion indexes one saved version. Versions are append-only and
// numbered from 1.
type SessionVersion struct {
	Version     int       `json:"version"`
	SavedAt     time.Time `json:"saved_at"`
	Compression int       `json:"compression"`
	Codec       string    `json:"codec"`
	File        string    `json:"file"`
	Size        int64     `json:"size"`     // bytes on disk
	RawSize     int64     `json:"raw_size"` // bytes before encoding
}

// LatestVersion returns the highest version number, or 0 if nothing was saved.
func (s *Session) LatestVersion() int {
	latest := 0
	for _, v := range s.Versions {
		if v.Version > latest {
			latest = v.Version
		}
	}
	return latest
}

// Version looks up a version by number.
func (s *Session) Version(n int) (*SessionVersion, bool) {
	for _, v := range s.Versions {
		if v.Version == n {
			return v, true
		}
	}
	return nil, false
}

// SessionSnapshot is the content of one version together with its session.
type SessionSnapshot struct {
	Session *Session
	Version *SessionVersion
	Content json.RawMessage
}
