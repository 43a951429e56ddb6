package tools

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/store"
)

// llm_punch_in
func punchInTool() mcp.Tool {
	return mcp.NewTool("llm_punch_in",
		mcp.WithDescription("Start a timesheet task for an LLM contributor in the current sprint. Opens a sprint if none is active."),
		mcp.WithString("llm_name", mcp.Required(), mcp.Description("Contributor name, e.g. claude")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the task is about")),
	)
}

type punchInParams struct {
	LLMName     string `json:"llm_name"`
	Description string `json:"description"`
}

func (s *Service) handlePunchIn(ctx context.Context, _ *registry.State, p punchInParams) (any, error) {
	t, err := s.store.PunchIn(ctx, p.LLMName, p.Description, s.sprintDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":    t.ID,
		"sprint_id":  t.SprintID,
		"llm_name":   t.LLMName,
		"started_at": formatTime(t.StartedAt),
	}, nil
}

// llm_punch_out
func punchOutTool() mcp.Tool {
	return mcp.NewTool("llm_punch_out",
		mcp.WithDescription("Close an open timesheet task with a summary. A closed task cannot be closed again."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id returned by llm_punch_in")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("What was done")),
		mcp.WithArray("files_modified", mcp.Description("Paths touched by the task"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("auto_detect_files", mcp.Description("Add files reported by git status in repo_path")),
		mcp.WithString("repo_path", mcp.Description("Directory inside the configured repository to auto-detect in; a subdirectory limits detection to its files")),
		mcp.WithString("llm_name", mcp.Description("When set, must match the contributor that opened the task")),
	)
}

type punchOutParams struct {
	TaskID          string   `json:"task_id"`
	Summary         string   `json:"summary"`
	FilesModified   []string `json:"files_modified"`
	AutoDetectFiles bool     `json:"auto_detect_files"`
	RepoPath        string   `json:"repo_path"`
	LLMName         string   `json:"llm_name"`
}

func (s *Service) handlePunchOut(ctx context.Context, _ *registry.State, p punchOutParams) (any, error) {
	task, err := s.store.GetTask(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	if !task.Open() {
		return nil, fmt.Errorf("task %s already closed: %w", task.ID, models.ErrInvalidState)
	}

	files := p.FilesModified
	if p.AutoDetectFiles {
		detected, err := s.detectFiles(p.RepoPath)
		if err != nil {
			return nil, err
		}
		files = mergeFiles(files, detected)
	}

	t, err := s.store.PunchOut(ctx, p.TaskID, p.LLMName, p.Summary, files)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":          t.ID,
		"llm_name":         t.LLMName,
		"ended_at":         timePtr(t.EndedAt),
		"duration_minutes": minutes(t, s.now()),
		"files_modified":   nonNil(t.FilesModified),
	}, nil
}

// detectFiles lists changed files under dir, relative to the repository
// root. When dir is a subdirectory only the files beneath it are returned.
func (s *Service) detectFiles(requested string) ([]string, error) {
	if s.git == nil {
		return nil, invalidArg("file auto-detection is not available")
	}
	dir, err := s.repoDir(requested)
	if err != nil {
		return nil, err
	}

	root, err := s.git.RepoRoot(dir)
	if err != nil {
		return nil, invalidArg("auto-detect files in %s: %v", dir, err)
	}
	files, err := s.git.ChangedFiles(dir)
	if err != nil {
		return nil, invalidArg("auto-detect files in %s: %v", dir, err)
	}
	return filesUnder(files, resolvePath(root), dir), nil
}

// repoDir resolves a requested repo_path against the configured repository
// tree. Paths outside that tree are rejected.
func (s *Service) repoDir(requested string) (string, error) {
	base := s.repoPath
	if base == "" {
		base = "."
	}
	base = resolvePath(base)
	if requested == "" {
		return base, nil
	}

	if !filepath.IsAbs(requested) {
		requested = filepath.Join(base, requested)
	}
	dir := resolvePath(requested)
	rel, err := filepath.Rel(base, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalidArg("repo_path %s is outside %s", requested, base)
	}
	return dir, nil
}

func resolvePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return filepath.Clean(p)
}

func filesUnder(files []string, root, dir string) []string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return files
	}
	prefix := filepath.ToSlash(rel) + "/"
	out := []string{}
	for _, f := range files {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// llm_finish_sprint
func finishSprintTool() mcp.Tool {
	return mcp.NewTool("llm_finish_sprint",
		mcp.WithDescription("Close the active sprint, freezing its tasks, and open the next one. Returns the closed sprint's report."),
		mcp.WithString("summary", mcp.Description("Closing summary for the sprint")),
	)
}

type finishSprintParams struct {
	Summary string `json:"summary"`
}

func (s *Service) handleFinishSprint(ctx context.Context, _ *registry.State, p finishSprintParams) (any, error) {
	closed, next, err := s.store.FinishSprint(ctx, p.Summary, s.sprintDays)
	if err != nil {
		return nil, err
	}
	report, err := s.SprintReport(ctx, closed.ID, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"closed_sprint": sprintView(closed),
		"next_sprint":   sprintView(next),
		"report":        report,
	}, nil
}

// llm_sprint_report
func sprintReportTool() mcp.Tool {
	return mcp.NewTool("llm_sprint_report",
		mcp.WithDescription("Aggregate a sprint's tasks per contributor. Defaults to the active sprint."),
		mcp.WithString("sprint_id", mcp.Description("Sprint id; omit for the active sprint")),
		mcp.WithBoolean("narrative", mcp.Description("Attach a short narrative written by the configured model")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type sprintReportParams struct {
	SprintID  string `json:"sprint_id"`
	Narrative bool   `json:"narrative"`
}

func (s *Service) handleSprintReport(ctx context.Context, _ *registry.State, p sprintReportParams) (any, error) {
	return s.SprintReport(ctx, p.SprintID, p.Narrative)
}

// SprintReport aggregates the tasks of sprintID, or of the active sprint when
// sprintID is empty. A narrative failure is reported in the result rather
// than failing the report.
func (s *Service) SprintReport(ctx context.Context, sprintID string, narrative bool) (*models.SprintReport, error) {
	if s.store == nil {
		return nil, fmt.Errorf("timesheet store not configured")
	}

	var sp *models.Sprint
	var err error
	if sprintID == "" {
		sp, err = s.store.CurrentSprint(ctx)
	} else {
		sp, err = s.store.GetSprint(ctx, sprintID)
	}
	if err != nil {
		return nil, err
	}

	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{SprintID: sp.ID})
	if err != nil {
		return nil, err
	}
	report := BuildReport(sp, tasks, s.now())

	if narrative {
		if s.narrator == nil {
			report.NarrativeError = "no Anthropic API key configured"
		} else if text, err := s.narrator.SprintNarrative(ctx, report); err != nil {
			report.NarrativeError = err.Error()
		} else {
			report.Narrative = text
		}
	}
	return report, nil
}

// BuildReport aggregates tasks per contributor. Open tasks count their time
// up to now, or up to the sprint's end once it is closed.
func BuildReport(sp *models.Sprint, tasks []*models.Task, now time.Time) *models.SprintReport {
	report := &models.SprintReport{
		SprintID:     sp.ID,
		Number:       sp.Number,
		Status:       sp.Status,
		Summary:      sp.Summary,
		StartedAt:    sp.StartedAt,
		PlannedEnd:   sp.PlannedEnd,
		EndedAt:      sp.EndedAt,
		Contributors: []models.ContributorStats{},
	}

	if sp.EndedAt != nil && sp.EndedAt.Before(now) {
		now = *sp.EndedAt
	}

	byName := make(map[string]*models.ContributorStats)
	files := make(map[string]map[string]bool)
	for _, t := range tasks {
		c, ok := byName[t.LLMName]
		if !ok {
			c = &models.ContributorStats{LLMName: t.LLMName, Files: []string{}}
			byName[t.LLMName] = c
			files[t.LLMName] = make(map[string]bool)
		}
		c.Tasks++
		if t.Open() {
			c.OpenTasks++
			report.OpenTasks++
		} else {
			c.ClosedTasks++
			if t.Summary != "" {
				c.Summaries = append(c.Summaries, t.Summary)
			}
		}
		m := minutes(t, now)
		c.Minutes += m
		report.TotalMinutes += m
		report.TaskCount++
		for _, f := range t.FilesModified {
			files[t.LLMName][f] = true
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := byName[name]
		for f := range files[name] {
			c.Files = append(c.Files, f)
		}
		sort.Strings(c.Files)
		c.Minutes = round1(c.Minutes)
		report.Contributors = append(report.Contributors, *c)
	}
	report.TotalMinutes = round1(report.TotalMinutes)
	return report
}

// llm_task_list
func taskListTool() mcp.Tool {
	return mcp.NewTool("llm_task_list",
		mcp.WithDescription("List timesheet tasks in start order across all sprints unless filtered."),
		mcp.WithString("llm_name", mcp.Description("Only tasks by this contributor")),
		mcp.WithString("sprint_id", mcp.Description("Only tasks in this sprint")),
		mcp.WithBoolean("open_only", mcp.Description("Only tasks that are not punched out")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type taskListParams struct {
	LLMName  string `json:"llm_name"`
	SprintID string `json:"sprint_id"`
	OpenOnly bool   `json:"open_only"`
}

func (s *Service) handleTaskList(ctx context.Context, _ *registry.State, p taskListParams) (any, error) {
	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{
		SprintID: p.SprintID,
		LLMName:  p.LLMName,
		OpenOnly: p.OpenOnly,
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t, now))
	}
	return map[string]any{
		"tasks": out,
		"count": len(out),
	}, nil
}

func taskView(t *models.Task, now time.Time) map[string]any {
	status := "closed"
	if t.Open() {
		status = "open"
	}
	return map[string]any{
		"task_id":          t.ID,
		"sprint_id":        t.SprintID,
		"llm_name":         t.LLMName,
		"description":      t.Description,
		"summary":          t.Summary,
		"status":           status,
		"files_modified":   nonNil(t.FilesModified),
		"started_at":       formatTime(t.StartedAt),
		"ended_at":         timePtr(t.EndedAt),
		"duration_minutes": minutes(t, now),
	}
}

func sprintView(sp *models.Sprint) map[string]any {
	return map[string]any{
		"sprint_id":     sp.ID,
		"number":        sp.Number,
		"status":        sp.Status,
		"summary":       sp.Summary,
		"duration_days": sp.DurationDays,
		"started_at":    formatTime(sp.StartedAt),
		"planned_end":   formatTime(sp.PlannedEnd),
		"ended_at":      timePtr(sp.EndedAt),
	}
}

func minutes(t *models.Task, now time.Time) float64 {
	return round1(t.Duration(now).Minutes())
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func mergeFiles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
