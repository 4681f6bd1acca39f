package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements StateBackend using a single YAML file.
// Designed for Airflow and other headless environments where a SQLite
// file per worker is impractical. It keeps only the last run.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	RunID       string           `yaml:"run_id,omitempty"`
	StartedAt   time.Time        `yaml:"started_at,omitempty"`
	CompletedAt *time.Time       `yaml:"completed_at,omitempty"`
	Status      string           `yaml:"status,omitempty"` // running, success, failed
	Sources     []string         `yaml:"sources,omitempty"`
	Error       string           `yaml:"error,omitempty"`
	Result      string           `yaml:"result,omitempty"`
	Watermarks  map[string]int64 `yaml:"watermarks"`
}

// NewFileState creates a file-based state manager.
// If the file exists, it loads the existing state.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path: path,
		state: &fileStateData{
			Watermarks: make(map[string]int64),
		},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if fs.state.Watermarks == nil {
			fs.state.Watermarks = make(map[string]int64)
		}
	}

	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// CreateRun initializes a new run, preserving existing watermarks.
func (fs *FileState) CreateRun(id string, sources []string, config any) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	watermarks := fs.state.Watermarks
	fs.state = &fileStateData{
		RunID:      id,
		StartedAt:  time.Now(),
		Status:     "running",
		Sources:    sources,
		Watermarks: watermarks,
	}
	// config is not persisted in the file backend; hash-level change
	// detection is a SQLite backend feature
	_ = config

	return fs.save()
}

// CompleteRun marks the run as finished.
func (fs *FileState) CompleteRun(id string, status string, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, id)
	}

	now := time.Now()
	fs.state.CompletedAt = &now
	fs.state.Status = status
	fs.state.Error = errorMsg
	return fs.save()
}

// SetRunResult attaches a JSON result summary to the current run.
func (fs *FileState) SetRunResult(id string, resultJSON string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, id)
	}
	fs.state.Result = resultJSON
	return fs.save()
}

// GetWatermark returns the stored resume position for a source.
func (fs *FileState) GetWatermark(source string) (int64, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	position, found := fs.state.Watermarks[source]
	return position, found, nil
}

// SetWatermark records the next unfetched position for a source.
func (fs *FileState) SetWatermark(source string, position int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.state.Watermarks[source] = position
	return fs.save()
}

// GetLastRun returns the run stored in the file, or nil if none.
func (fs *FileState) GetLastRun() (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" {
		return nil, nil
	}
	return fs.toRun(), nil
}

// GetRunByID returns the stored run if the ID matches, nil otherwise.
func (fs *FileState) GetRunByID(runID string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID != runID {
		return nil, nil
	}
	return fs.toRun(), nil
}

// GetAllRuns returns the single stored run; the file backend keeps no
// deeper history.
func (fs *FileState) GetAllRuns() ([]Run, error) {
	r, err := fs.GetLastRun()
	if err != nil || r == nil {
		return nil, err
	}
	return []Run{*r}, nil
}

// Close is a no-op; every mutation is written through to disk.
func (fs *FileState) Close() error {
	return nil
}

func (fs *FileState) toRun() *Run {
	return &Run{
		ID:          fs.state.RunID,
		StartedAt:   fs.state.StartedAt,
		CompletedAt: fs.state.CompletedAt,
		Status:      fs.state.Status,
		Sources:     fs.state.Sources,
		Error:       fs.state.Error,
		Result:      fs.state.Result,
	}
}

// MarshalJSON lets a Run render cleanly in --output-json summaries.
func (r Run) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID          string     `json:"id"`
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		Status      string     `json:"status"`
		Sources     []string   `json:"sources,omitempty"`
		Error       string     `json:"error,omitempty"`
		Result      string     `json:"result,omitempty"`
	}
	return json.Marshal(alias{
		ID: r.ID, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
		Status: r.Status, Sources: r.Sources, Error: r.Error, Result: r.Result,
	})
}
