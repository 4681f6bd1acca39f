package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestFileState(t *testing.T) (*FileState, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.yaml")
	fs, err := NewFileState(path)
	if err != nil {
		t.Fatalf("NewFileState() error = %v", err)
	}
	return fs, path
}

func TestFileState_WatermarkPersistsAcrossReopen(t *testing.T) {
	fs, path := newTestFileState(t)

	if err := fs.SetWatermark("catalog", 150); err != nil {
		t.Fatalf("SetWatermark() error = %v", err)
	}

	reopened, err := NewFileState(path)
	if err != nil {
		t.Fatalf("NewFileState() reopen error = %v", err)
	}
	position, found, err := reopened.GetWatermark("catalog")
	if err != nil {
		t.Fatalf("GetWatermark() error = %v", err)
	}
	if !found || position != 150 {
		t.Errorf("position = %d, found = %v, want 150 found", position, found)
	}
}

func TestFileState_NewRunPreservesWatermarks(t *testing.T) {
	fs, _ := newTestFileState(t)

	fs.SetWatermark("catalog", 150)
	if err := fs.CreateRun("run-2", []string{"catalog"}, nil); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	position, found, _ := fs.GetWatermark("catalog")
	if !found || position != 150 {
		t.Errorf("position = %d, found = %v, want 150 survive a new run", position, found)
	}
}

func TestFileState_RunLifecycle(t *testing.T) {
	fs, _ := newTestFileState(t)

	if err := fs.CreateRun("run-1", []string{"traffic"}, nil); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := fs.CompleteRun("run-1", "failed", "load error"); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	r, err := fs.GetLastRun()
	if err != nil {
		t.Fatalf("GetLastRun() error = %v", err)
	}
	if r.Status != "failed" || r.Error != "load error" {
		t.Errorf("run = %+v", r)
	}

	// mismatched run ID is rejected
	if err := fs.CompleteRun("other", "success", ""); err == nil {
		t.Error("CompleteRun() with wrong ID: error = nil, want mismatch error")
	}
}

func TestFileState_EmptyHistory(t *testing.T) {
	fs, _ := newTestFileState(t)

	runs, err := fs.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("len(runs) = %d, want 0", len(runs))
	}
}

func TestFileState_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	fs, err := NewFileState(path)
	if err != nil {
		t.Fatalf("NewFileState() error = %v", err)
	}
	if _, found, _ := fs.GetWatermark("catalog"); found {
		t.Error("found = true for missing file, want false")
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("state file should not be created until first write")
	}
}
