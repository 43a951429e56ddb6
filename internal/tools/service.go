// Package tools implements the session, context, and timesheet tools and
// registers them with a registry.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joescharf/continuity/internal/git"
	"github.com/joescharf/continuity/internal/llm"
	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/storage"
	"github.com/joescharf/continuity/internal/store"
)

// DefaultSprintDays is the nominal length of a new sprint.
const DefaultSprintDays = 7

// Service holds the dependencies the tools operate on. The timesheet tools
// are only registered when a store is configured.
type Service struct {
	backend    storage.Backend
	store      store.Store
	git        git.Client
	narrator   llm.Narrator
	sprintDays int
	repoPath   string
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore enables the timesheet tools backed by s.
func WithStore(s store.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithGit sets the client used to auto-detect modified files.
func WithGit(c git.Client) Option {
	return func(svc *Service) { svc.git = c }
}

// WithNarrator sets the client that writes sprint narratives.
func WithNarrator(n llm.Narrator) Option {
	return func(svc *Service) { svc.narrator = n }
}

// WithSprintDays sets the nominal duration of new sprints.
func WithSprintDays(days int) Option {
	return func(svc *Service) {
		if days > 0 {
			svc.sprintDays = days
		}
	}
}

// WithRepoPath sets the repository tree file auto-detection is confined to.
func WithRepoPath(path string) Option {
	return func(svc *Service) { svc.repoPath = path }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService creates a Service over backend.
func NewService(backend storage.Backend, opts ...Option) *Service {
	svc := &Service{
		backend:    backend,
		sprintDays: DefaultSprintDays,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Register adds every tool to reg, including tool_list.
func (s *Service) Register(reg *registry.Registry) error {
	type entry struct {
		def mcp.Tool
		h   registry.Handler
	}
	entries := []entry{
		{sessionCreateTool(), registry.Typed(s.handleSessionCreate)},
		{sessionSaveTool(), registry.Typed(s.handleSessionSave)},
		{sessionRestoreTool(), registry.Typed(s.handleSessionRestore)},
		{sessionListTool(), registry.Typed(s.handleSessionList)},
		{sessionDeleteTool(), registry.Typed(s.handleSessionDelete)},
		{contextStoreTool(), registry.Typed(s.handleContextStore)},
		{contextRetrieveTool(), registry.Typed(s.handleContextRetrieve)},
		{contextSwitchTool(), registry.Typed(s.handleContextSwitch)},
		{contextDeleteTool(), registry.Typed(s.handleContextDelete)},
		{contextListTool(), registry.Typed(s.handleContextList)},
		{toolListTool(), registry.Typed(listTools(reg))},
	}
	if s.store != nil {
		entries = append(entries,
			entry{punchInTool(), registry.Typed(s.handlePunchIn)},
			entry{punchOutTool(), registry.Typed(s.handlePunchOut)},
			entry{finishSprintTool(), registry.Typed(s.handleFinishSprint)},
			entry{sprintReportTool(), registry.Typed(s.handleSprintReport)},
			entry{taskListTool(), registry.Typed(s.handleTaskList)},
		)
	}

	for _, e := range entries {
		if err := reg.Register(e.def, e.h); err != nil {
			return fmt.Errorf("register %s: %w", e.def.Name, err)
		}
	}
	return nil
}

// withAny declares a property that accepts any JSON value.
func withAny(name string, opts ...mcp.PropertyOption) mcp.ToolOption {
	return func(t *mcp.Tool) {
		schema := map[string]any{}
		for _, opt := range opts {
			opt(schema)
		}
		if required, ok := schema["required"].(bool); ok {
			delete(schema, "required")
			if required {
				t.InputSchema.Required = append(t.InputSchema.Required, name)
			}
		}
		t.InputSchema.Properties[name] = schema
	}
}

// rawValue normalizes an absent value to JSON null so it can be stored.
func rawValue(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func invalidArg(format string, a ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidArgument, fmt.Sprintf(format, a...))
}
