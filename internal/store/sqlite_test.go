package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/continuity/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Sprints ---

func TestPunchIn_OpensFirstSprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CurrentSprint(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	first, err := s.PunchIn(ctx, "claude", "a", 14)
	require.NoError(t, err)

	sp, err := s.CurrentSprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SprintID, sp.ID)
	assert.Equal(t, 1, sp.Number)
	assert.Equal(t, models.SprintStatusActive, sp.Status)
	assert.Equal(t, 14, sp.DurationDays)
	assert.Equal(t, sp.StartedAt.AddDate(0, 0, 14), sp.PlannedEnd)

	second, err := s.PunchIn(ctx, "gpt", "b", 14)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, second.SprintID)
}

func TestFinishSprint_FreezesAndOpensNext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.PunchIn(ctx, "claude", "write storage", 7)
	require.NoError(t, err)

	closed, next, err := s.FinishSprint(ctx, "storage done", 0)
	require.NoError(t, err)
	assert.Equal(t, task.SprintID, closed.ID)
	assert.Equal(t, models.SprintStatusClosed, closed.Status)
	assert.NotNil(t, closed.EndedAt)
	assert.Equal(t, "storage done", closed.Summary)

	assert.Equal(t, 2, next.Number)
	assert.Equal(t, models.SprintStatusActive, next.Status)
	assert.Equal(t, 7, next.DurationDays, "inherits the closed sprint's duration")

	current, err := s.CurrentSprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.ID, current.ID)

	// New work lands in the new sprint; the closed sprint's set is frozen.
	later, err := s.PunchIn(ctx, "gpt", "write docs", 7)
	require.NoError(t, err)
	assert.Equal(t, next.ID, later.SprintID)

	frozen, err := s.ListTasks(ctx, TaskListFilter{SprintID: closed.ID})
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, task.ID, frozen[0].ID)

	sprints, err := s.ListSprints(ctx)
	require.NoError(t, err)
	require.Len(t, sprints, 2)
	assert.Equal(t, 2, sprints[0].Number)
}

func TestFinishSprint_NoActiveSprint(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.FinishSprint(context.Background(), "", 7)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetSprint_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSprint(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Tasks ---

func TestPunchInPunchOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return start }

	task, err := s.PunchIn(ctx, "claude", "implement dispatcher", 7)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.True(t, task.Open())

	s.Now = func() time.Time { return start.Add(90 * time.Minute) }
	closed, err := s.PunchOut(ctx, task.ID, "", "dispatcher implemented", []string{"internal/rpc/dispatcher.go"})
	require.NoError(t, err)
	assert.False(t, closed.Open())
	assert.Equal(t, 90*time.Minute, closed.Duration(time.Now()))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher implemented", got.Summary)
	assert.Equal(t, []string{"internal/rpc/dispatcher.go"}, got.FilesModified)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(start.Add(90*time.Minute)))
}

func TestPunchOut_InvalidTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PunchOut(ctx, "missing", "", "x", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	task, err := s.PunchIn(ctx, "claude", "work", 7)
	require.NoError(t, err)

	_, err = s.PunchOut(ctx, task.ID, "gpt", "not mine", nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = s.PunchOut(ctx, task.ID, "claude", "done", nil)
	require.NoError(t, err)

	_, err = s.PunchOut(ctx, task.ID, "claude", "again", nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Summary, "closed tasks never change")
	assert.Equal(t, []string{}, got.FilesModified)
}

func TestPunchIn_RequiresName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PunchIn(context.Background(), "  ", "x", 7)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.PunchIn(ctx, "claude", "a", 7)
	require.NoError(t, err)
	_, err = s.PunchIn(ctx, "gpt", "b", 7)
	require.NoError(t, err)
	_, err = s.PunchIn(ctx, "claude", "c", 7)
	require.NoError(t, err)
	_, err = s.PunchOut(ctx, a.ID, "", "done", nil)
	require.NoError(t, err)

	all, err := s.ListTasks(ctx, TaskListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	claude, err := s.ListTasks(ctx, TaskListFilter{LLMName: "claude"})
	require.NoError(t, err)
	assert.Len(t, claude, 2)

	open, err := s.ListTasks(ctx, TaskListFilter{LLMName: "claude", OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c", open[0].Description)
}
