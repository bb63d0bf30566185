package app

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/appenv/internal/envs"
	"github.com/blackwell-systems/appenv/internal/history"
	"github.com/blackwell-systems/appenv/internal/proclock"
	"github.com/blackwell-systems/appenv/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status [application]",
	Short: "Report the full state of an application",
	Long: `Reports everything the manager knows about an application: installed
and broken environments, recorded snapshots, whether another command is
busy on it right now, whether the environment watcher daemon is running,
and the last journaled action. Purely local; the channel is never queried
and no package manager is needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

// statusReport is the status command's envelope payload.
type statusReport struct {
	Application    string              `json:"application"`
	ConfigRoot     string              `json:"config_root"`
	BasePrefix     string              `json:"base_prefix"`
	CurrentVersion string              `json:"current_version,omitempty"`
	Build          string              `json:"build_string,omitempty"`
	Installed      []statusEnvironment `json:"installed"`
	Broken         []string            `json:"broken"`
	Snapshots      map[string][]string `json:"snapshots"`
	Busy           bool                `json:"busy"`
	BusyPid        int                 `json:"busy_pid,omitempty"`
	WatcherRunning bool                `json:"watcher_running"`
	LastAction     *actionSummary      `json:"last_action,omitempty"`
}

// statusEnvironment is an installed environment with its on-disk size and
// age rendered for humans.
type statusEnvironment struct {
	envs.Environment
	Size     string `json:"size,omitempty"`
	Modified string `json:"modified,omitempty"`
}

type actionSummary struct {
	Command  string `json:"command"`
	Version  string `json:"version,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	When     string `json:"when"`
	Warnings int    `json:"warnings,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runRead(args, func(ctx context.Context, s *session) (any, error) {
		installed, err := s.store.InstalledVersions(s.spec.Name)
		if err != nil {
			return nil, err
		}
		broken, err := s.store.BrokenEnvironments(s.spec.Name)
		if err != nil {
			return nil, err
		}
		snapshots, err := s.registry.AvailableSnapshots(s.spec.Name)
		if err != nil {
			return nil, err
		}
		if broken == nil {
			broken = []string{}
		}

		report := &statusReport{
			Application: s.spec.Name,
			ConfigRoot:  s.root,
			BasePrefix:  s.store.Base(),
			Installed:   make([]statusEnvironment, 0, len(installed)),
			Broken:      broken,
			Snapshots:   snapshots,
		}
		for _, env := range installed {
			entry := statusEnvironment{Environment: env}
			if fi, err := os.Stat(env.Prefix); err == nil {
				entry.Modified = humanize.Time(fi.ModTime())
			}
			if size := treeSize(env.Prefix); size > 0 {
				entry.Size = humanize.Bytes(size)
			}
			report.Installed = append(report.Installed, entry)
		}

		report.CurrentVersion = s.spec.Version
		if report.CurrentVersion == "" && len(installed) > 0 {
			report.CurrentVersion = installed[len(installed)-1].Version
		}
		for _, env := range installed {
			if env.Version == report.CurrentVersion {
				report.Build = env.Build
			}
		}

		busy, pid, err := proclock.Held(s.lockPath())
		if err != nil {
			return nil, err
		}
		report.Busy, report.BusyPid = busy, pid

		running, err := watcher.IsDaemonRunning(defaultWatchPidFile(s.root))
		if err == nil {
			report.WatcherRunning = running
		}

		last, err := lastJournalAction(s.root, s.spec.Name)
		if err != nil {
			return nil, err
		}
		if last != nil {
			report.LastAction = summarizeAction(last)
		}
		return report, nil
	})
}

// treeSize totals the regular files under a prefix. Errors along the walk
// leave the affected files uncounted.
func treeSize(prefix string) uint64 {
	var total uint64
	filepath.WalkDir(prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func summarizeAction(a *history.Action) *actionSummary {
	sum := &actionSummary{
		Command:  a.Command,
		Version:  a.Version,
		Status:   a.Status,
		Error:    a.Error,
		When:     humanize.Time(a.StartedAt),
		Warnings: len(a.Warnings),
	}
	if a.FinishedAt != nil {
		sum.When = humanize.Time(*a.FinishedAt)
	}
	// A row still "running" whose recording process is gone marks a command
	// that died mid-flight.
	if a.Running() {
		if alive, err := process.PidExists(int32(a.Pid)); err == nil && !alive {
			sum.Status = "interrupted"
		}
	}
	return sum
}
