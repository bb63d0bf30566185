package app

import (
	"path/filepath"
	"testing"
)

func TestWatchCommandFlags(t *testing.T) {
	for _, name := range []string{"daemon", "daemon-child", "stop", "pid-file", "log-file"} {
		if watchCmd.Flags().Lookup(name) == nil {
			t.Errorf("flag %q not found", name)
		}
	}
}

func TestWatchDaemonChildFlagHidden(t *testing.T) {
	flag := watchCmd.Flags().Lookup("daemon-child")
	if flag == nil {
		t.Fatal("daemon-child flag not found")
	}
	if !flag.Hidden {
		t.Error("daemon-child flag should be hidden")
	}
}

func TestDefaultWatchPaths(t *testing.T) {
	root := "/tmp/appenv-test-root"

	if got := defaultWatchPidFile(root); got != filepath.Join(root, "watch.pid") {
		t.Errorf("pid file = %q", got)
	}
	if got := defaultWatchLogFile(root); got != filepath.Join(root, "log", "watch.log") {
		t.Errorf("log file = %q", got)
	}
}
