package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// State manages pipeline state in SQLite
type State struct {
	db *sql.DB
}

// Run represents one pipeline run
type Run struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Sources     []string
	Config      string
	Error       string
	Result      string // JSON summary written at the end of a run
}

// New creates a new state manager backed by pipeline.db under dataDir.
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pipeline.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		sources TEXT NOT NULL,
		config TEXT,
		error_message TEXT,
		result TEXT
	);

	CREATE TABLE IF NOT EXISTS watermarks (
		source TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a pipeline run
func (s *State) CreateRun(id string, sources []string, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, sources, config)
		VALUES (?, datetime('now'), 'running', ?, ?)
	`, id, strings.Join(sources, ","), string(configJSON))
	return err
}

// CompleteRun marks a run as finished with the given status
func (s *State) CompleteRun(id string, status string, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'), error_message = ?
		WHERE id = ?
	`, status, errorMsg, id)
	return err
}

// SetRunResult attaches a JSON result summary to a run
func (s *State) SetRunResult(id string, resultJSON string) error {
	_, err := s.db.Exec(`UPDATE runs SET result = ? WHERE id = ?`, resultJSON, id)
	return err
}

// GetWatermark returns the stored resume position for a source.
// found is false when the source has never checkpointed.
func (s *State) GetWatermark(source string) (int64, bool, error) {
	var position int64
	err := s.db.QueryRow(`
		SELECT position FROM watermarks WHERE source = ?
	`, source).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading watermark for %s: %w", source, err)
	}
	return position, true, nil
}

// SetWatermark records the next unfetched position for a source. The
// write is a single upsert so concurrent or restarted runs cannot
// leave a duplicate or stale row behind.
func (s *State) SetWatermark(source string, position int64) error {
	_, err := s.db.Exec(`
		INSERT INTO watermarks (source, position, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(source) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at
	`, source, position)
	if err != nil {
		return fmt.Errorf("saving watermark for %s: %w", source, err)
	}
	return nil
}

// GetLastRun returns the most recent run, or nil if none exist.
func (s *State) GetLastRun() (*Run, error) {
	r, err := s.scanRun(s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, sources, error_message, result
		FROM runs ORDER BY started_at DESC LIMIT 1
	`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetRunByID returns a specific run, or nil if not found.
func (s *State) GetRunByID(runID string) (*Run, error) {
	r, err := s.scanRun(s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, sources, error_message, result
		FROM runs WHERE id = ?
	`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetAllRuns returns recent runs for history, newest first
func (s *State) GetAllRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, status, sources, error_message, result
		FROM runs ORDER BY started_at DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *State) scanRun(row rowScanner) (*Run, error) {
	var r Run
	var startedAtStr, sourcesStr string
	var completedAtStr, errorMsg, result sql.NullString

	if err := row.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status, &sourcesStr, &errorMsg, &result); err != nil {
		return nil, err
	}

	r.StartedAt, _ = time.Parse("2006-01-02 15:04:05", startedAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse("2006-01-02 15:04:05", completedAtStr.String)
		r.CompletedAt = &t
	}
	if sourcesStr != "" {
		r.Sources = strings.Split(sourcesStr, ",")
	}
	r.Error = errorMsg.String
	r.Result = result.String
	return &r, nil
}
