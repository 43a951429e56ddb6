package registry

import "sync"

// State is the connection-scoped state handed to every tool call. Each stdio
// loop, MCP session, or HTTP client id owns one; nothing is shared through
// package globals.
type State struct {
	ClientID string

	mu        sync.Mutex
	namespace string
	previous  string
}

// NewState creates state for one connection, starting in namespace.
func NewState(clientID, namespace string) *State {
	return &State{ClientID: clientID, namespace: namespace}
}

// Namespace returns the namespace unscoped context operations target.
func (s *State) Namespace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespace
}

// Previous returns the namespace remembered by the last preserving switch.
func (s *State) Previous() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

// Switch makes target current and returns the namespace it replaced. With
// preserve the replaced namespace is remembered for a later switch back.
func (s *State) Switch(target string, preserve bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.namespace
	s.namespace = target
	if preserve {
		s.previous = prev
	}
	return prev
}
