package load

import (
	"path/filepath"
	"testing"

	"github.com/mgiordano/apielt/internal/record"
	"github.com/mgiordano/apielt/internal/stage"
)

const defaultIDPattern = `(\d+)/?$`

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := OpenLocal(filepath.Join(t.TempDir(), "catalog.db"), defaultIDPattern)
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func stageCatalog(t *testing.T, rows []record.CatalogRow) string {
	t.Helper()
	s := stage.New(t.TempDir(), "20060102_150405.000")
	path, err := stage.WriteRows(s, "catalog", "offset_0", rows)
	if err != nil {
		t.Fatalf("WriteRows() error = %v", err)
	}
	return path
}

func TestLoadCatalogFile(t *testing.T) {
	l := newTestLocal(t)
	path := stageCatalog(t, []record.CatalogRow{
		{Name: "pikachu", URL: "https://pokeapi.co/api/v2/pokemon/25/"},
		{Name: "raichu", URL: "https://pokeapi.co/api/v2/pokemon/26/"},
	})

	n, err := l.LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogFile() error = %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}

	var id int64
	var name string
	err = l.db.QueryRow(`SELECT entry_id, name FROM catalog_entries WHERE name = 'pikachu'`).Scan(&id, &name)
	if err != nil {
		t.Fatalf("querying loaded row: %v", err)
	}
	if id != 25 {
		t.Errorf("entry_id = %d, want 25 derived from url", id)
	}
}

func TestLoadCatalogFile_UnmatchedURLGetsNullID(t *testing.T) {
	l := newTestLocal(t)
	path := stageCatalog(t, []record.CatalogRow{
		{Name: "weird", URL: "https://example.com/no-trailing-id"},
	})

	if _, err := l.LoadCatalogFile(path); err != nil {
		t.Fatalf("LoadCatalogFile() error = %v", err)
	}

	var nullCount int64
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM catalog_entries WHERE entry_id IS NULL`).Scan(&nullCount); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if nullCount != 1 {
		t.Errorf("null entry_id rows = %d, want 1", nullCount)
	}
}

func TestLoadCatalogFile_ReloadAppends(t *testing.T) {
	l := newTestLocal(t)
	path := stageCatalog(t, []record.CatalogRow{
		{Name: "bulbasaur", URL: "https://x/pokemon/1/"},
	})

	for i := 0; i < 2; i++ {
		if _, err := l.LoadCatalogFile(path); err != nil {
			t.Fatalf("LoadCatalogFile() pass %d error = %v", i, err)
		}
	}

	n, err := l.EntryCount()
	if err != nil {
		t.Fatalf("EntryCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("EntryCount() = %d, want 2 after double load", n)
	}
}

func TestRefreshCatalogStats(t *testing.T) {
	l := newTestLocal(t)

	// stats before any refresh
	s, err := l.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if s != nil {
		t.Fatalf("GetStats() = %+v, want nil before first refresh", s)
	}

	path := stageCatalog(t, []record.CatalogRow{
		{Name: "bulbasaur", URL: "https://x/pokemon/1/"},
		{Name: "pikachu", URL: "https://x/pokemon/25/"},
	})
	if _, err := l.LoadCatalogFile(path); err != nil {
		t.Fatalf("LoadCatalogFile() error = %v", err)
	}
	if err := l.RefreshCatalogStats(); err != nil {
		t.Fatalf("RefreshCatalogStats() error = %v", err)
	}

	s, err = l.GetStats()
	if err != nil || s == nil {
		t.Fatalf("GetStats() = %+v, %v", s, err)
	}
	if s.TotalRows != 2 || s.DistinctEntries != 2 {
		t.Errorf("stats = %+v, want 2 rows, 2 distinct", s)
	}
	if s.MinEntryID == nil || *s.MinEntryID != 1 || s.MaxEntryID == nil || *s.MaxEntryID != 25 {
		t.Errorf("id range = %v..%v, want 1..25", s.MinEntryID, s.MaxEntryID)
	}

	// refresh is replace, not accumulate
	if _, err := l.LoadCatalogFile(path); err != nil {
		t.Fatalf("LoadCatalogFile() error = %v", err)
	}
	if err := l.RefreshCatalogStats(); err != nil {
		t.Fatalf("RefreshCatalogStats() error = %v", err)
	}
	s, _ = l.GetStats()
	if s.TotalRows != 4 || s.DistinctEntries != 2 {
		t.Errorf("stats after reload = %+v, want 4 rows, 2 distinct", s)
	}
}
