package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return s
}

func TestBeginFinishRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Begin(&Action{Command: "update", Package: "napari", Version: "0.4.17", Pid: 1234})
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	a, err := s.Last("napari")
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if a == nil {
		t.Fatal("Last() = nil after Begin()")
	}
	if !a.Running() {
		t.Errorf("action status = %q, want running", a.Status)
	}
	if a.Pid != 1234 || a.Command != "update" || a.Version != "0.4.17" {
		t.Errorf("unexpected action: %+v", a)
	}
	if a.FinishedAt != nil {
		t.Error("running action has finished_at set")
	}

	if err := s.Finish(id, StatusOK, "", []string{"shortcut creation failed"}); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	a, err = s.Last("napari")
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if a.Status != StatusOK {
		t.Errorf("finished action status = %q, want ok", a.Status)
	}
	if len(a.Warnings) != 1 || a.Warnings[0] != "shortcut creation failed" {
		t.Errorf("warnings = %v", a.Warnings)
	}
	if a.FinishedAt == nil || a.FinishedAt.Before(a.StartedAt) {
		t.Errorf("finished_at = %v, started_at = %v", a.FinishedAt, a.StartedAt)
	}
}

func TestFinishWithError(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Begin(&Action{Command: "restore", Package: "napari", Pid: 99})
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := s.Finish(id, StatusError, "no snapshot found", nil); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	a, err := s.Last("napari")
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if a.Status != StatusError || a.Error != "no snapshot found" {
		t.Errorf("action = %+v, want error status with message", a)
	}
	if a.Warnings != nil {
		t.Errorf("warnings = %v, want none", a.Warnings)
	}
}

func TestFinishUnknownAction(t *testing.T) {
	s := newTestStore(t)
	if err := s.Finish(999, StatusOK, "", nil); err == nil {
		t.Error("Finish() on unknown id should fail")
	}
}

func TestLastEmptyJournal(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Last("napari")
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if a != nil {
		t.Errorf("Last() = %+v on empty journal, want nil", a)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)

	for _, cmd := range []string{"update", "restore", "reset"} {
		if _, err := s.Begin(&Action{Command: cmd, Package: "napari", Pid: 1}); err != nil {
			t.Fatalf("Begin(%s) failed: %v", cmd, err)
		}
	}
	if _, err := s.Begin(&Action{Command: "update", Package: "other", Pid: 1}); err != nil {
		t.Fatalf("Begin(other) failed: %v", err)
	}

	actions, err := s.Recent("napari", 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("Recent() returned %d actions, want 2", len(actions))
	}
	if actions[0].Command != "reset" || actions[1].Command != "restore" {
		t.Errorf("Recent() order = [%s %s], want newest first", actions[0].Command, actions[1].Command)
	}
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	if _, err := OpenExisting(path); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("OpenExisting() on missing file = %v, want ErrNotInitialized", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	if _, err := s.Begin(&Action{Command: "update", Package: "napari", Pid: 1}); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	reopened, err := OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting() failed: %v", err)
	}
	defer reopened.Close()

	a, err := reopened.Last("napari")
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if a == nil || a.Command != "update" {
		t.Errorf("journal did not survive reopen: %+v", a)
	}
}
