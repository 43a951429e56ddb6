package store

import (
	"context"

	"github.com/joescharf/continuity/internal/models"
)

// TaskListFilter specifies filters for listing tasks.
type TaskListFilter struct {
	SprintID string
	LLMName  string
	OpenOnly bool
}

// Store defines the persistence interface for the LLM timesheet.
type Store interface {
	// Sprints
	CurrentSprint(ctx context.Context) (*models.Sprint, error)
	GetSprint(ctx context.Context, id string) (*models.Sprint, error)
	ListSprints(ctx context.Context) ([]*models.Sprint, error)
	FinishSprint(ctx context.Context, summary string, nextDurationDays int) (closed, next *models.Sprint, err error)

	// Tasks
	PunchIn(ctx context.Context, llmName, description string, durationDays int) (*models.Task, error)
	PunchOut(ctx context.Context, taskID, llmName, summary string, files []string) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
