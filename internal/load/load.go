// Package load moves staged catalog snapshots into the embedded
// SQLite destination and maintains the derived aggregate table.
package load

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mgiordano/apielt/internal/logging"
	"github.com/mgiordano/apielt/internal/record"
	"github.com/mgiordano/apielt/internal/stage"
)

// Local is the embedded analytical destination. Loads are append
// only: re-loading a staged file inserts its rows again.
type Local struct {
	db        *sql.DB
	idPattern *regexp.Regexp
}

// OpenLocal opens (creating if needed) the embedded destination
// database. idPattern extracts the numeric entry id from the catalog
// url field; its first capture group is the id.
func OpenLocal(path, idPattern string) (*Local, error) {
	re, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling id pattern: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening local database: %w", err)
	}

	l := &Local{db: db, idPattern: re}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating local schema: %w", err)
	}
	return l, nil
}

func (l *Local) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS catalog_entries (
		entry_id INTEGER,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		source_file TEXT NOT NULL,
		loaded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_entries_name ON catalog_entries(name);
	`)
	return err
}

// Close closes the database connection
func (l *Local) Close() error {
	return l.db.Close()
}

// LoadCatalogFile appends the rows of one staged file into
// catalog_entries and returns the number of rows inserted.
func (l *Local) LoadCatalogFile(path string) (int, error) {
	rows, err := stage.ReadRows[record.CatalogRow](path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO catalog_entries (entry_id, name, url, source_file, loaded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	sourceFile := filepath.Base(path)
	loadedAt := time.Now().UTC().Format(time.RFC3339)

	for _, r := range rows {
		if _, err := stmt.Exec(l.deriveID(r.URL), r.Name, r.URL, sourceFile, loadedAt); err != nil {
			return 0, fmt.Errorf("inserting %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing load: %w", err)
	}

	logging.Debug("loaded %d rows from %s", len(rows), sourceFile)
	return len(rows), nil
}

// deriveID extracts the numeric entry id from a catalog url, or nil
// when the url does not match the configured pattern.
func (l *Local) deriveID(url string) any {
	m := l.idPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return nil
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return id
}

// RefreshCatalogStats rebuilds the catalog_stats aggregate from
// catalog_entries. The table is replaced wholesale on every refresh so
// repeated runs converge on the same result.
func (l *Local) RefreshCatalogStats() error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stats transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DROP TABLE IF EXISTS catalog_stats`); err != nil {
		return fmt.Errorf("dropping old stats: %w", err)
	}
	if _, err := tx.Exec(`
		CREATE TABLE catalog_stats AS
		SELECT
			COUNT(*)             AS total_rows,
			COUNT(DISTINCT name) AS distinct_entries,
			MIN(entry_id)        AS min_entry_id,
			MAX(entry_id)        AS max_entry_id,
			datetime('now')      AS refreshed_at
		FROM catalog_entries
	`); err != nil {
		return fmt.Errorf("building stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing stats: %w", err)
	}
	return nil
}

// Stats is the current content of catalog_stats
type Stats struct {
	TotalRows       int64
	DistinctEntries int64
	MinEntryID      *int64
	MaxEntryID      *int64
	RefreshedAt     string
}

// GetStats reads back the aggregate table, nil when it has never been
// refreshed.
func (l *Local) GetStats() (*Stats, error) {
	var s Stats
	err := l.db.QueryRow(`
		SELECT total_rows, distinct_entries, min_entry_id, max_entry_id, refreshed_at
		FROM catalog_stats
	`).Scan(&s.TotalRows, &s.DistinctEntries, &s.MinEntryID, &s.MaxEntryID, &s.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		// missing table means no refresh has happened yet
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// EntryCount returns the number of rows in catalog_entries.
func (l *Local) EntryCount() (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM catalog_entries`).Scan(&n)
	return n, err
}
