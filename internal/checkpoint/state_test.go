package checkpoint

import (
	"testing"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatermark_DefaultWhenAbsent(t *testing.T) {
	s := newTestState(t)

	position, found, err := s.GetWatermark("catalog")
	if err != nil {
		t.Fatalf("GetWatermark() error = %v", err)
	}
	if found {
		t.Error("found = true for fresh state, want false")
	}
	if position != 0 {
		t.Errorf("position = %d, want 0", position)
	}
}

func TestWatermark_SetAndAdvance(t *testing.T) {
	s := newTestState(t)

	if err := s.SetWatermark("catalog", 50); err != nil {
		t.Fatalf("SetWatermark() error = %v", err)
	}
	position, found, err := s.GetWatermark("catalog")
	if err != nil || !found {
		t.Fatalf("GetWatermark() = %v, found=%v", err, found)
	}
	if position != 50 {
		t.Errorf("position = %d, want 50", position)
	}

	// upsert replaces, never duplicates
	if err := s.SetWatermark("catalog", 100); err != nil {
		t.Fatalf("SetWatermark() error = %v", err)
	}
	position, _, _ = s.GetWatermark("catalog")
	if position != 100 {
		t.Errorf("position = %d, want 100 after advance", position)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM watermarks WHERE source = 'catalog'`).Scan(&count); err != nil {
		t.Fatalf("counting watermark rows: %v", err)
	}
	if count != 1 {
		t.Errorf("watermark rows = %d, want 1", count)
	}
}

func TestWatermark_PerSourceIsolation(t *testing.T) {
	s := newTestState(t)

	s.SetWatermark("catalog", 200)
	s.SetWatermark("traffic", 3)

	if p, _, _ := s.GetWatermark("catalog"); p != 200 {
		t.Errorf("catalog position = %d, want 200", p)
	}
	if p, _, _ := s.GetWatermark("traffic"); p != 3 {
		t.Errorf("traffic position = %d, want 3", p)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestState(t)

	if err := s.CreateRun("run-1", []string{"catalog", "weather"}, map[string]int{"batch": 50}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	r, err := s.GetLastRun()
	if err != nil {
		t.Fatalf("GetLastRun() error = %v", err)
	}
	if r == nil || r.ID != "run-1" || r.Status != "running" {
		t.Fatalf("GetLastRun() = %+v", r)
	}
	if len(r.Sources) != 2 || r.Sources[1] != "weather" {
		t.Errorf("Sources = %v", r.Sources)
	}

	if err := s.SetRunResult("run-1", `{"rows_staged":120}`); err != nil {
		t.Fatalf("SetRunResult() error = %v", err)
	}
	if err := s.CompleteRun("run-1", "success", ""); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	r, _ = s.GetRunByID("run-1")
	if r.Status != "success" {
		t.Errorf("Status = %q, want success", r.Status)
	}
	if r.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
	if r.Result != `{"rows_staged":120}` {
		t.Errorf("Result = %q", r.Result)
	}
}

func TestGetAllRuns_NewestFirst(t *testing.T) {
	s := newTestState(t)

	// both runs land in the same datetime('now') second, so pin order
	// with explicit timestamps
	s.db.Exec(`INSERT INTO runs (id, started_at, status, sources) VALUES ('old', '2026-01-01 10:00:00', 'success', 'catalog')`)
	s.db.Exec(`INSERT INTO runs (id, started_at, status, sources) VALUES ('new', '2026-01-02 10:00:00', 'failed', 'catalog')`)

	runs, err := s.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "old" {
		t.Errorf("order = [%s, %s], want [new, old]", runs[0].ID, runs[1].ID)
	}
}

func TestGetRunByID_NotFound(t *testing.T) {
	s := newTestState(t)
	r, err := s.GetRunByID("missing")
	if err != nil {
		t.Fatalf("GetRunByID() error = %v", err)
	}
	if r != nil {
		t.Errorf("r = %+v, want nil", r)
	}
}
