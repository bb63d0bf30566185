// Package shortcuts integrates environments with the OS application menu.
// Each application ships a companion "<name>-menu" conda package whose
// install drops menu entries into the running desktop (menuinst style), so
// creating or removing a shortcut is a package operation on the target
// environment. Opening locates the dropped entry per platform and launches
// it.
package shortcuts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/skratchdot/open-golang/open"

	"github.com/blackwell-systems/appenv/internal/envs"
	"github.com/blackwell-systems/appenv/internal/logging"
)

// Runner is the subset of the conda executor the shortcut manager needs.
type Runner interface {
	Install(ctx context.Context, prefix string, specs []string, channels []string) error
	Uninstall(ctx context.Context, prefix string, specs []string) error
}

// Manager installs, removes and opens the menu entries of one application.
type Manager struct {
	runner   Runner
	store    *envs.Store
	pkg      string
	channels []string
}

// New returns a Manager for the given application package.
func New(runner Runner, store *envs.Store, pkg string, channels []string) *Manager {
	return &Manager{runner: runner, store: store, pkg: pkg, channels: channels}
}

func (m *Manager) menuSpec(version string) string {
	return m.pkg + "-menu=" + version
}

// Create installs the menu package into the version's environment, which
// drops the OS shortcut as an install side effect.
func (m *Manager) Create(ctx context.Context, version string) error {
	prefix := m.store.PrefixFor(m.pkg, version)
	if _, err := os.Stat(prefix); err != nil {
		return fmt.Errorf("environment %s does not exist: %w", prefix, err)
	}
	if err := m.runner.Install(ctx, prefix, []string{m.menuSpec(version)}, m.channels); err != nil {
		return fmt.Errorf("failed to install menu package: %w", err)
	}
	return nil
}

// Remove uninstalls the menu package, deleting the OS shortcut. A version
// without the menu package installed is a no-op.
func (m *Manager) Remove(ctx context.Context, version string) error {
	prefix := m.store.PrefixFor(m.pkg, version)
	if _, err := os.Stat(prefix); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat environment: %w", err)
	}
	if err := m.runner.Uninstall(ctx, prefix, []string{m.menuSpec(version)}); err != nil {
		// The menu package may never have been installed; that leaves
		// nothing to remove.
		logging.Component("shortcuts").WithError(err).Debugf("menu package removal for %s skipped", version)
	}
	return nil
}

// Open launches the application for a version through its OS shortcut, or
// the environment's binary when no shortcut is found.
func (m *Manager) Open(version string) error {
	if path, ok := m.shortcutLocation(version); ok {
		return m.launchShortcut(path)
	}
	bin := m.binaryPath(version)
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("no shortcut or binary found for %s %s", m.pkg, version)
	}
	return open.Start(bin)
}

func (m *Manager) binaryPath(version string) string {
	prefix := m.store.PrefixFor(m.pkg, version)
	if runtime.GOOS == "windows" {
		return filepath.Join(prefix, "Scripts", m.pkg+".exe")
	}
	return filepath.Join(prefix, "bin", m.pkg)
}

// shortcutLocation finds the menu entry dropped by the menu package, per
// platform.
func (m *Manager) shortcutLocation(version string) (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}

	switch runtime.GOOS {
	case "darwin":
		name := fmt.Sprintf("%s %s.app", m.pkg, version)
		for _, dir := range []string{filepath.Join(home, "Applications"), "/Applications"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
	case "windows":
		programs := filepath.Join(home, "AppData", "Roaming", "Microsoft", "Windows", "Start Menu", "Programs")
		name := fmt.Sprintf("%s (%s).lnk", m.pkg, version)
		for _, path := range []string{
			filepath.Join(programs, fmt.Sprintf("%s (%s)", m.pkg, version), name),
			filepath.Join(programs, name),
		} {
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
	default:
		dir := filepath.Join(home, ".local", "share", "applications")
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", false
		}
		needle := strings.ToLower(m.pkg)
		for _, entry := range entries {
			name := strings.ToLower(entry.Name())
			if strings.HasSuffix(name, ".desktop") &&
				strings.Contains(name, needle) && strings.Contains(name, version) {
				return filepath.Join(dir, entry.Name()), true
			}
		}
	}
	return "", false
}

// launchShortcut starts the shortcut. Linux .desktop entries are plain text,
// so the Exec line is parsed and run directly; other platforms hand the path
// to the OS opener.
func (m *Manager) launchShortcut(path string) error {
	if runtime.GOOS != "linux" {
		return open.Start(path)
	}
	args, err := desktopExec(path)
	if err != nil {
		return err
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", path, err)
	}
	// The launched application outlives this process.
	return cmd.Process.Release()
}

// desktopExec extracts the Exec command of a .desktop file with field codes
// (%f, %u and friends) stripped.
func desktopExec(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desktop entry: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		value, ok := strings.CutPrefix(line, "Exec=")
		if !ok {
			continue
		}
		var cmd []string
		for _, field := range strings.Fields(value) {
			if strings.HasPrefix(field, "%") {
				continue
			}
			cmd = append(cmd, field)
		}
		if len(cmd) == 0 {
			break
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("desktop entry %s has no usable Exec line", path)
}
