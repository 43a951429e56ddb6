package models

import (
	"encoding/json"
	"time"
)

// DefaultNamespace is used when a caller never switched contexts.
const DefaultNamespace = "default"

// ContextEntry is a namespaced key/value pair with an optional expiry.
type ContextEntry struct {
	Key       string          `json:"key"`
	Namespace string          `json:"namespace"`
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *ContextEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
