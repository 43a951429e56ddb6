package models

import "time"

// SprintStatus represents the state of a sprint.
type SprintStatus string

const (
	SprintStatusActive SprintStatus = "active"
	SprintStatusClosed SprintStatus = "closed"
)

// Sprint is a time-boxed aggregation of tasks. Exactly one sprint is active.
type Sprint struct {
	ID           string
	Number       int
	Status       SprintStatus
	DurationDays int
	Summary      string
	StartedAt    time.Time
	PlannedEnd   time.Time
	EndedAt      *time.Time
}

// Task records one unit of work attributed to an LLM contributor.
type Task struct {
	ID            string
	SprintID      string
	LLMName       string
	Description   string
	Summary       string
	FilesModified []string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// Open reports whether the task has not been punched out yet.
func (t *Task) Open() bool {
	return t.EndedAt == nil
}

// Duration returns the elapsed time of a closed task, or time since start
// for an open one.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.EndedAt != nil {
		return t.EndedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// ContributorStats aggregates one contributor's tasks within a sprint.
type ContributorStats struct {
	LLMName     string   `json:"llm_name"`
	Tasks       int      `json:"tasks"`
	OpenTasks   int      `json:"open_tasks"`
	ClosedTasks int      `json:"closed_tasks"`
	Minutes     float64  `json:"minutes"`
	Files       []string `json:"files_modified"`
	Summaries   []string `json:"summaries,omitempty"`
}

// SprintReport is the read-only aggregation of a sprint's tasks.
type SprintReport struct {
	SprintID       string             `json:"sprint_id"`
	Number         int                `json:"number"`
	Status         SprintStatus       `json:"status"`
	Summary        string             `json:"summary,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	PlannedEnd     time.Time          `json:"planned_end"`
	EndedAt        *time.Time         `json:"ended_at,omitempty"`
	TaskCount      int                `json:"task_count"`
	OpenTasks      int                `json:"open_tasks"`
	TotalMinutes   float64            `json:"total_minutes"`
	Contributors   []ContributorStats `json:"contributors"`
	Narrative      string             `json:"narrative,omitempty"`
	NarrativeError string             `json:"narrative_error,omitempty"`
}
