package watcher

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestIsDaemonRunning_NotRunning(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")

	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		t.Errorf("IsDaemonRunning() error = %v, want nil", err)
	}
	if running {
		t.Error("IsDaemonRunning() = true, want false for missing pid file")
	}
}

func TestIsDaemonRunning_WithCurrentProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		t.Errorf("IsDaemonRunning() error = %v, want nil", err)
	}
	if !running {
		t.Error("IsDaemonRunning() = false, want true for current process")
	}
}

func TestIsDaemonRunning_WithDeadProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	if err := os.WriteFile(pidFile, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		t.Errorf("IsDaemonRunning() error = %v, want nil", err)
	}
	if running {
		t.Error("IsDaemonRunning() = true, want false for dead process")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("stale pid file was not removed")
	}
}

func TestIsDaemonRunning_InvalidPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-number\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		t.Errorf("IsDaemonRunning() error = %v, want nil for invalid pid", err)
	}
	if running {
		t.Error("IsDaemonRunning() = true, want false for invalid pid")
	}
}

func TestStopDaemon_NotRunning(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")

	if err := StopDaemon(pidFile); err == nil {
		t.Error("StopDaemon() expected error for missing pid file, got nil")
	}
}

func TestStopDaemon_InvalidPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	if err := os.WriteFile(pidFile, []byte("invalid\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	if err := StopDaemon(pidFile); err == nil {
		t.Error("StopDaemon() expected error for invalid pid, got nil")
	}
}

func TestStartDaemon_AlreadyRunning(t *testing.T) {
	w, _ := newTestWatcher(t)

	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "watch.pid")
	logFile := filepath.Join(tmpDir, "watch.log")

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	if err := w.StartDaemon(pidFile, logFile); err == nil {
		t.Error("StartDaemon() expected error for already running daemon, got nil")
	}
}

func TestStartDaemon_InvalidLogFile(t *testing.T) {
	w, _ := newTestWatcher(t)

	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "watch.pid")
	logFile := filepath.Join(tmpDir, "missing", "watch.log")

	if err := w.StartDaemon(pidFile, logFile); err == nil {
		t.Error("StartDaemon() expected error for unwritable log file, got nil")
	}
}
