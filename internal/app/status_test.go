package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/blackwell-systems/appenv/internal/config"
)

type statusEnv struct {
	Version  string `json:"version"`
	Marked   bool   `json:"marked"`
	Size     string `json:"size"`
	Modified string `json:"modified"`
}

type statusData struct {
	Application    string              `json:"application"`
	BasePrefix     string              `json:"base_prefix"`
	CurrentVersion string              `json:"current_version"`
	Build          string              `json:"build_string"`
	Installed      []statusEnv         `json:"installed"`
	Broken         []string            `json:"broken"`
	Snapshots      map[string][]string `json:"snapshots"`
	Busy           bool                `json:"busy"`
	BusyPid        int                 `json:"busy_pid"`
	WatcherRunning bool                `json:"watcher_running"`
}

func runStatusCommand(t *testing.T, args []string) statusData {
	t.Helper()
	out, err := captureStdout(t, func() error {
		return runStatus(statusCmd, args)
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	env := decodeEnvelope(t, out)
	if env.Error != "" {
		t.Fatalf("status error = %q", env.Error)
	}
	var data statusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode status data: %v", err)
	}
	return data
}

func TestStatusReportsEnvironments(t *testing.T) {
	_, base := newTestApp(t)

	installAppEnv(t, base, "napari", "0.4.15", "abc123", true)
	installAppEnv(t, base, "napari", "0.4.16", "def456", true)
	broken := installAppEnv(t, base, "napari", "0.4.17", "", false)

	data := runStatusCommand(t, []string{"napari"})

	if data.Application != "napari" {
		t.Errorf("application = %q", data.Application)
	}
	if data.BasePrefix != base {
		t.Errorf("base_prefix = %q, want %q", data.BasePrefix, base)
	}
	if data.CurrentVersion != "0.4.16" {
		t.Errorf("current_version = %q, want newest installed", data.CurrentVersion)
	}
	if data.Build != "def456" {
		t.Errorf("build_string = %q, want def456", data.Build)
	}
	if len(data.Installed) != 2 {
		t.Fatalf("installed = %v, want two versions", data.Installed)
	}
	if data.Installed[0].Version != "0.4.15" || data.Installed[1].Version != "0.4.16" {
		t.Errorf("installed order = %v, want ascending", data.Installed)
	}
	for _, env := range data.Installed {
		if env.Size == "" {
			t.Errorf("size missing for %s", env.Version)
		}
		if env.Modified == "" {
			t.Errorf("modified missing for %s", env.Version)
		}
	}
	if len(data.Broken) != 1 || data.Broken[0] != broken {
		t.Errorf("broken = %v, want %q", data.Broken, broken)
	}
	if data.Busy {
		t.Error("busy without a held lock")
	}
	if data.WatcherRunning {
		t.Error("watcher reported running without a daemon")
	}
}

func TestStatusPinnedSpecWinsOverNewest(t *testing.T) {
	_, base := newTestApp(t)

	installAppEnv(t, base, "napari", "0.4.15", "abc123", true)
	installAppEnv(t, base, "napari", "0.4.16", "def456", true)

	data := runStatusCommand(t, []string{"napari=0.4.15"})

	if data.CurrentVersion != "0.4.15" {
		t.Errorf("current_version = %q, want pinned 0.4.15", data.CurrentVersion)
	}
	if data.Build != "abc123" {
		t.Errorf("build_string = %q, want abc123", data.Build)
	}
}

func TestStatusReportsBusy(t *testing.T) {
	root, base := newTestApp(t)

	installAppEnv(t, base, "napari", "0.4.16", "", true)

	lockPath := filepath.Join(config.LockDir(root), "appenv.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		t.Fatalf("mkdir lock dir: %v", err)
	}
	if err := os.Symlink(strconv.Itoa(os.Getpid()), lockPath); err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	data := runStatusCommand(t, []string{"napari"})

	if !data.Busy {
		t.Error("expected busy while the lock is held")
	}
	if data.BusyPid != os.Getpid() {
		t.Errorf("busy_pid = %d, want %d", data.BusyPid, os.Getpid())
	}
}

func TestStatusNothingInstalled(t *testing.T) {
	newTestApp(t)

	data := runStatusCommand(t, []string{"napari"})

	if data.CurrentVersion != "" {
		t.Errorf("current_version = %q, want empty", data.CurrentVersion)
	}
	if data.Installed == nil || len(data.Installed) != 0 {
		t.Errorf("installed = %v, want empty list", data.Installed)
	}
	if data.Broken == nil || len(data.Broken) != 0 {
		t.Errorf("broken = %v, want empty list", data.Broken)
	}
	if data.Snapshots == nil {
		t.Error("snapshots missing, want empty map")
	}
}
