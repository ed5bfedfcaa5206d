// ABOUTME: SQLite-backed index of run manifests for fast listing and status counts.
// ABOUTME: Mirrors the filesystem run store and can always be rebuilt from it; never the source of truth.
package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RunRow is one indexed run.
type RunRow struct {
	RunID            string          `json:"run_id"`
	RecipeID         string          `json:"recipe_id"`
	SessionID        string          `json:"session_id"`
	Status           pipeline.Status `json:"status"`
	Phase            string          `json:"phase"`
	CurrentStepIndex int             `json:"current_step_index"`
	TotalSteps       int             `json:"total_steps"`
	Description      string          `json:"description"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Error            *string         `json:"error"`
}

// Index is the SQLite run index.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the index database at path and ensures its schema.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Runs upsert from many goroutines; SQLite allows one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			recipe_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT NOT NULL,
			current_step_index INTEGER NOT NULL,
			total_steps INTEGER NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS runs_status ON runs(status);
		CREATE INDEX IF NOT EXISTS runs_recipe ON runs(recipe_id);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Index{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Upsert inserts or refreshes the row for a manifest.
func (idx *Index) Upsert(m *pipeline.Manifest) error {
	return upsert(idx.db, m)
}

func upsert(db execer, m *pipeline.Manifest) error {
	_, err := db.Exec(
		`INSERT INTO runs (run_id, recipe_id, session_id, status, phase, current_step_index,
			total_steps, description, created_at, updated_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			current_step_index = excluded.current_step_index,
			updated_at = excluded.updated_at,
			error = excluded.error`,
		m.RunID,
		m.RecipeID,
		m.SessionID,
		string(m.Status),
		m.Phase,
		m.CurrentStepIndex,
		m.TotalSteps,
		m.Task.Description,
		m.CreatedAt.UTC().Format(timeLayout),
		m.UpdatedAt.UTC().Format(timeLayout),
		m.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", m.RunID, err)
	}
	return nil
}

// ManifestWritten keeps the index in step with the Runner. Index failures
// never affect the run itself.
func (idx *Index) ManifestWritten(m pipeline.Manifest) {
	if err := idx.Upsert(&m); err != nil {
		idx.logger.Warn("index: upsert manifest", "run_id", m.RunID, "error", err)
	}
}

// List returns indexed runs matching filter, newest first.
func (idx *Index) List(filter pipeline.RunFilter) ([]RunRow, error) {
	query := `SELECT run_id, recipe_id, session_id, status, phase, current_step_index,
			total_steps, description, created_at, updated_at, error
		 FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.RecipeID != "" {
		query += " AND recipe_id = ?"
		args = append(args, filter.RecipeID)
	}
	query += " ORDER BY created_at DESC, run_id DESC"

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRow
	for rows.Next() {
		var (
			r                RunRow
			status           string
			created, updated string
		)
		if err := rows.Scan(&r.RunID, &r.RecipeID, &r.SessionID, &status, &r.Phase,
			&r.CurrentStepIndex, &r.TotalSteps, &r.Description, &created, &updated, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Status = pipeline.Status(status)
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", r.RunID, err)
		}
		if r.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the number of indexed runs per status.
func (idx *Index) Counts() (map[pipeline.Status]int, error) {
	rows, err := idx.db.Query("SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[pipeline.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[pipeline.Status(status)] = n
	}
	return counts, rows.Err()
}

// Rebuild clears the index and repopulates it from every manifest in store,
// returning the number of runs indexed.
func (idx *Index) Rebuild(store pipeline.RunStore) (int, error) {
	manifests, err := store.ListRuns(pipeline.RunFilter{})
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM runs"); err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	for _, m := range manifests {
		if err := upsert(tx, m); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}

	idx.logger.Info("index: rebuilt", "runs", len(manifests))
	return len(manifests), nil
}
