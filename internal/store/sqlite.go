package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/continuity/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB

	// Now is the clock used for task and sprint timestamps.
	Now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes access and keeps HTTP clients from hitting "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	return &SQLiteStore{
		db:  db,
		Now: func() time.Time { return time.Now().UTC() },
	}, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newULID generates a new ULID string.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	return s.Now().UTC()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Sprints ---

const sprintColumns = `id, number, status, duration_days, summary, started_at, planned_end, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSprint(row rowScanner) (*models.Sprint, error) {
	sp := &models.Sprint{}
	var endedAt sql.NullTime
	if err := row.Scan(&sp.ID, &sp.Number, &sp.Status, &sp.DurationDays, &sp.Summary, &sp.StartedAt, &sp.PlannedEnd, &endedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		sp.EndedAt = &t
	}
	return sp, nil
}

func currentSprint(ctx context.Context, q queryer) (*models.Sprint, error) {
	sp, err := scanSprint(q.QueryRowContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE status = ?`, models.SprintStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active sprint: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active sprint: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) openSprint(ctx context.Context, q queryer, durationDays int) (*models.Sprint, error) {
	if durationDays <= 0 {
		durationDays = 7
	}
	var last sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(number) FROM sprints`).Scan(&last); err != nil {
		return nil, fmt.Errorf("next sprint number: %w", err)
	}

	now := s.now()
	sp := &models.Sprint{
		ID:           newULID(),
		Number:       int(last.Int64) + 1,
		Status:       models.SprintStatusActive,
		DurationDays: durationDays,
		StartedAt:    now,
		PlannedEnd:   now.AddDate(0, 0, durationDays),
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO sprints (id, number, status, duration_days, summary, started_at, planned_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Number, sp.Status, sp.DurationDays, sp.Summary, sp.StartedAt, sp.PlannedEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("create sprint: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) CurrentSprint(ctx context.Context) (*models.Sprint, error) {
	return currentSprint(ctx, s.db)
}

// ensureSprint returns the active sprint, opening the next one when none is
// active. Sprint 1 is opened on first use.
func (s *SQLiteStore) ensureSprint(ctx context.Context, q queryer, durationDays int) (*models.Sprint, error) {
	sp, err := currentSprint(ctx, q)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return s.openSprint(ctx, q, durationDays)
}

func (s *SQLiteStore) GetSprint(ctx context.Context, id string) (*models.Sprint, error) {
	sp, err := scanSprint(s.db.QueryRowContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sprint %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sprint: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) ListSprints(ctx context.Context) ([]*models.Sprint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sprintColumns+` FROM sprints ORDER BY number DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sprints []*models.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}

// FinishSprint closes the active sprint, freezing its task set, and opens the
// next one in the same transaction.
func (s *SQLiteStore) FinishSprint(ctx context.Context, summary string, nextDurationDays int) (*models.Sprint, *models.Sprint, error) {
	var closed, next *models.Sprint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sp, err := currentSprint(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sprints SET status = ?, summary = ?, ended_at = ? WHERE id = ?`,
			models.SprintStatusClosed, summary, now, sp.ID,
		); err != nil {
			return fmt.Errorf("close sprint: %w", err)
		}
		sp.Status = models.SprintStatusClosed
		sp.Summary = summary
		sp.EndedAt = &now
		closed = sp

		if nextDurationDays <= 0 {
			nextDurationDays = sp.DurationDays
		}
		next, err = s.openSprint(ctx, tx, nextDurationDays)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return closed, next, nil
}

// --- Tasks ---

const taskColumns = `id, sprint_id, llm_name, description, summary, files_modified, started_at, ended_at`

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var files string
	var endedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.SprintID, &t.LLMName, &t.Description, &t.Summary, &files, &t.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	if files != "" {
		if err := json.Unmarshal([]byte(files), &t.FilesModified); err != nil {
			return nil, fmt.Errorf("decode files for task %s: %w", t.ID, err)
		}
	}
	if endedAt.Valid {
		e := endedAt.Time
		t.EndedAt = &e
	}
	return t, nil
}

func (s *SQLiteStore) PunchIn(ctx context.Context, llmName, description string, durationDays int) (*models.Task, error) {
	if strings.TrimSpace(llmName) == "" {
		return nil, fmt.Errorf("%w: llm_name is empty", models.ErrInvalidArgument)
	}

	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sp, err := s.ensureSprint(ctx, tx, durationDays)
		if err != nil {
			return err
		}

		task = &models.Task{
			ID:            newULID(),
			SprintID:      sp.ID,
			LLMName:       llmName,
			Description:   description,
			FilesModified: []string{},
			StartedAt:     s.now(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, sprint_id, llm_name, description, summary, files_modified, started_at)
			VALUES (?, ?, ?, ?, '', '[]', ?)`,
			task.ID, task.SprintID, task.LLMName, task.Description, task.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// PunchOut closes an open task. A non-empty llmName must match the task's
// contributor.
func (s *SQLiteStore) PunchOut(ctx context.Context, taskID, llmName, summary string, files []string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !t.Open() {
			return fmt.Errorf("task %s already closed: %w", taskID, models.ErrInvalidState)
		}
		if llmName != "" && llmName != t.LLMName {
			return fmt.Errorf("task %s belongs to %s, not %s: %w", taskID, t.LLMName, llmName, models.ErrInvalidState)
		}

		if files == nil {
			files = []string{}
		}
		encoded, err := json.Marshal(files)
		if err != nil {
			return fmt.Errorf("encode files: %w", err)
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET summary = ?, files_modified = ?, ended_at = ? WHERE id = ? AND ended_at IS NULL`,
			summary, string(encoded), now, taskID,
		); err != nil {
			return fmt.Errorf("close task: %w", err)
		}

		t.Summary = summary
		t.FilesModified = files
		t.EndedAt = &now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func getTask(ctx context.Context, q queryer, id string) (*models.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.SprintID != "" {
		query += " AND sprint_id = ?"
		args = append(args, filter.SprintID)
	}
	if filter.LLMName != "" {
		query += " AND llm_name = ?"
		args = append(args, filter.LLMName)
	}
	if filter.OpenOnly {
		query += " AND ended_at IS NULL"
	}
	query += " ORDER BY started_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
