package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/appenv/internal/config"
	"github.com/blackwell-systems/appenv/internal/logging"
	"github.com/blackwell-systems/appenv/internal/output"
	"github.com/blackwell-systems/appenv/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchStop        bool
	watchPidFile     string
	watchLogFile     string

	watchCmd = &cobra.Command{
		Use:   "watch [application]",
		Short: "Observe environment changes as they happen",
		Long: `Watches the environments of an application and reports installs,
removals, sentinel flips and appearing broken environments as they
happen on disk, whoever causes them.

In the foreground (default) each change is printed to stdout as its own
JSON object, one per line; this is the one command that streams instead
of writing a single envelope. With --daemon the watcher runs detached
and logs changes to its log file instead.`,
		Example: `  # Stream changes to stdout, Ctrl+C to stop
  appenv watch napari

  # Run detached
  appenv watch napari --daemon
  appenv watch napari --stop`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().StringVar(&watchPidFile, "pid-file", "", "PID file path (default: <config-root>/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: <config-root>/log/watch.log)")

	watchCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func defaultWatchPidFile(root string) string {
	return filepath.Join(root, "watch.pid")
}

func defaultWatchLogFile(root string) string {
	return filepath.Join(config.LogDir(root), "watch.log")
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSession(args)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	defer s.Close()

	if watchPidFile == "" {
		watchPidFile = defaultWatchPidFile(s.root)
	}
	if watchLogFile == "" {
		watchLogFile = defaultWatchLogFile(s.root)
	}

	if watchStop {
		return stopWatchDaemon()
	}

	w, err := watcher.New(s.store, s.spec.Name)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}

	if watchDaemon {
		return startWatchDaemon(s, w)
	}
	if watchDaemonChild {
		// Child of --daemon: stdout and stderr are the log file, so no
		// envelope is written here.
		return w.RunDaemon(watchPidFile)
	}
	return runWatchForeground(w)
}

func stopWatchDaemon() error {
	running, err := watcher.IsDaemonRunning(watchPidFile)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	if !running {
		return output.WriteResult(os.Stdout, map[string]any{"running": false})
	}
	if err := watcher.StopDaemon(watchPidFile); err != nil {
		return output.WriteError(os.Stdout, err)
	}
	return output.WriteResult(os.Stdout, map[string]any{"running": false, "stopped": true})
}

func startWatchDaemon(s *session, w *watcher.Watcher) error {
	running, err := watcher.IsDaemonRunning(watchPidFile)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	if running {
		return output.WriteError(os.Stdout, fmt.Errorf("daemon already running (PID file: %s)", watchPidFile))
	}
	// The child re-resolves its own session, so forward the application and
	// the paths this process resolved.
	childArgs := []string{
		s.spec.String(),
		"--config-root", s.root,
		"--base-prefix", s.store.Base(),
		"--pid-file", watchPidFile,
	}
	if err := w.StartDaemon(watchPidFile, watchLogFile, childArgs...); err != nil {
		return output.WriteError(os.Stdout, err)
	}
	return output.WriteResult(os.Stdout, map[string]any{
		"running":  true,
		"pid_file": watchPidFile,
		"log_file": watchLogFile,
	})
}

func runWatchForeground(w *watcher.Watcher) error {
	if err := w.Start(); err != nil {
		return output.WriteError(os.Stdout, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				logging.Component("app").WithError(err).Warn("failed to write event")
			}
		case <-sigCh:
			return w.Stop()
		}
	}
}
