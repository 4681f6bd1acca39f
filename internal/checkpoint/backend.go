package checkpoint

// StateBackend defines the interface for pipeline state persistence.
// Implementations include SQLite (full featured, with run history) and
// file-based (minimal, for Airflow and other headless schedulers).
type StateBackend interface {
	// Run lifecycle
	CreateRun(id string, sources []string, config any) error
	CompleteRun(id string, status string, errorMsg string) error
	SetRunResult(id string, resultJSON string) error
	GetLastRun() (*Run, error)

	// Extraction watermarks
	GetWatermark(source string) (position int64, found bool, err error)
	SetWatermark(source string, position int64) error

	// History (file backend returns only the last run)
	GetAllRuns() ([]Run, error)
	GetRunByID(runID string) (*Run, error)

	Close() error
}

var (
	_ StateBackend = (*State)(nil)
	_ StateBackend = (*FileState)(nil)
)
