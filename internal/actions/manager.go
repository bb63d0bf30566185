// Package actions implements the environment lifecycle operations: checking
// for updates, installing new versions side by side with old ones, snapshot
// and restore, and tearing everything down. Each operation works on
// versioned conda environments named <package>-<version> and reports its
// outcome as a result struct the command layer serializes.
package actions

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/blackwell-systems/appenv/internal/conda"
	"github.com/blackwell-systems/appenv/internal/envs"
	"github.com/blackwell-systems/appenv/internal/logging"
	"github.com/blackwell-systems/appenv/internal/state"
	"github.com/blackwell-systems/appenv/internal/versions"
)

// VersionSource answers what the package channel serves.
type VersionSource interface {
	AvailableVersions(ctx context.Context, pkg, buildTag string, channels []string, includeUnstable bool) ([]string, error)
	Plugins(ctx context.Context, pluginsURL string) ([]string, error)
}

// EnvironmentRunner is the package-manager subset the engine drives. The
// conda executor satisfies it.
type EnvironmentRunner interface {
	Create(ctx context.Context, prefix string, specs []string, channels []string) error
	CreateFromFile(ctx context.Context, prefix, manifest string) error
	Install(ctx context.Context, prefix string, specs []string, channels []string) error
	Remove(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]conda.PackageRecord, error)
	Info(ctx context.Context) (*conda.Info, error)
	Lock(ctx context.Context, envFile, platform, outPath string) error
}

// ShortcutIntegrator maintains OS menu entries for installed versions.
type ShortcutIntegrator interface {
	Create(ctx context.Context, version string) error
	Remove(ctx context.Context, version string) error
	Open(version string) error
}

// Config wires a Manager.
type Config struct {
	// Spec is the application being managed. A pinned version binds the
	// manager to that version as current; otherwise the newest installed
	// version is used.
	Spec     conda.Spec
	Channels []string

	Source    VersionSource
	Runner    EnvironmentRunner
	Shortcuts ShortcutIntegrator
	Envs      *envs.Store
	Registry  *state.Registry

	// OnStage, when set, receives a short description of each long-running
	// step as it starts.
	OnStage func(msg string)
}

// Manager coordinates one operation at a time against the environment tree.
// It holds no mutable state beyond the current version resolved at
// construction; everything else lives on disk.
type Manager struct {
	spec      conda.Spec
	channels  []string
	source    VersionSource
	runner    EnvironmentRunner
	shortcuts ShortcutIntegrator
	envs      *envs.Store
	registry  *state.Registry
	onStage   func(string)

	current string
	log     *log.Entry
}

// New resolves the current version and returns a ready Manager. When the
// spec does not pin a version, the newest installed one is current; with
// nothing installed the current version is empty and update-style
// operations fall back to the channel's latest.
func New(cfg Config) (*Manager, error) {
	if cfg.Spec.Name == "" {
		return nil, fmt.Errorf("package name is required")
	}
	m := &Manager{
		spec:      cfg.Spec,
		channels:  cfg.Channels,
		source:    cfg.Source,
		runner:    cfg.Runner,
		shortcuts: cfg.Shortcuts,
		envs:      cfg.Envs,
		registry:  cfg.Registry,
		onStage:   cfg.OnStage,
		current:   cfg.Spec.Version,
		log:       logging.Component("actions"),
	}
	if m.current == "" {
		installed, err := m.envs.InstalledVersions(m.pkg())
		if err != nil {
			return nil, fmt.Errorf("failed to scan installed versions: %w", err)
		}
		if len(installed) > 0 {
			m.current = installed[len(installed)-1].Version
		}
	}
	return m, nil
}

// CurrentVersion returns the version the manager is bound to, which may be
// empty when nothing is installed.
func (m *Manager) CurrentVersion() string { return m.current }

func (m *Manager) pkg() string { return m.spec.Name }

func (m *Manager) prefixOf(version string) string {
	return m.envs.PrefixFor(m.pkg(), version)
}

// appSpec renders the application pinned to a version, carrying the build
// constraint when the spec has one.
func (m *Manager) appSpec(version string) string {
	return m.spec.WithVersion(version).String()
}

func (m *Manager) stage(msg string) {
	m.log.Debug(msg)
	if m.onStage != nil {
		m.onStage(msg)
	}
}

// newerThanCurrent reports whether v is strictly newer than the bound
// current version. With no current version any version counts as newer.
func (m *Manager) newerThanCurrent(v string) bool {
	if v == "" {
		return false
	}
	if m.current == "" {
		return true
	}
	cur, err := versions.Parse(m.current)
	if err != nil {
		return false
	}
	nv, err := versions.Parse(v)
	if err != nil {
		return false
	}
	return nv.GreaterThan(cur)
}

// removeEnvironment tears one version down: sentinel first so a watcher
// never sees a marked half-removed environment, then shortcuts, then the
// prefix itself. A prefix the package manager could not fully delete is
// renamed aside so the next clean sweep can reclaim it.
func (m *Manager) removeEnvironment(ctx context.Context, version string) error {
	if err := m.envs.Unmark(m.pkg(), version); err != nil {
		return fmt.Errorf("failed to unmark environment: %w", err)
	}
	if err := m.shortcuts.Remove(ctx, version); err != nil {
		m.log.WithError(err).Warnf("failed to remove shortcuts for %s", version)
	}
	prefix := m.prefixOf(version)
	if _, err := os.Stat(prefix); os.IsNotExist(err) {
		return nil
	}
	if err := m.runner.Remove(ctx, prefix); err != nil {
		m.log.WithError(err).Warnf("failed to remove %s", prefix)
	}
	if _, err := os.Stat(prefix); err == nil {
		leftover := prefix + "-" + uuid.NewString()
		if err := os.Rename(prefix, leftover); err != nil {
			return fmt.Errorf("failed to move leftover environment aside: %w", err)
		}
		m.log.Warnf("moved leftover environment to %s", leftover)
	}
	return nil
}

// createEnvironment builds a fresh environment for a version. The
// application and its related packages are solved together first; when
// that fails, the application is created alone and each related package
// installed one at a time, so a single conflicting plugin cannot block
// the update.
func (m *Manager) createEnvironment(ctx context.Context, version string, related []string) ([]string, error) {
	prefix := m.prefixOf(version)
	spec := m.appSpec(version)
	combined := append([]string{spec}, related...)

	err := m.runner.Create(ctx, prefix, combined, m.channels)
	if err == nil {
		return nil, nil
	}
	if len(related) == 0 {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	warnings := []string{fmt.Sprintf("combined install failed, retrying one at a time: %v", err)}
	if err := m.runner.Create(ctx, prefix, []string{spec}, m.channels); err != nil {
		return warnings, fmt.Errorf("failed to create environment: %w", err)
	}
	for _, pkg := range related {
		m.stage("Installing " + pkg)
		if err := m.runner.Install(ctx, prefix, []string{pkg}, m.channels); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to install %s: %v", pkg, err))
		}
	}
	return warnings, nil
}

// relatedNames lists the plugin packages installed in a version's
// environment, by name only, so a rebuilt environment picks up their
// newest compatible releases.
func (m *Manager) relatedNames(ctx context.Context, version, pluginsURL string) ([]string, []string) {
	if pluginsURL == "" || version == "" {
		return nil, nil
	}
	prefix := m.prefixOf(version)
	if _, err := os.Stat(prefix); err != nil {
		return nil, nil
	}
	plugins, err := m.source.Plugins(ctx, pluginsURL)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to list plugins: %v", err)}
	}
	records, err := m.runner.List(ctx, prefix)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to list packages in %s: %v", prefix, err)}
	}
	known := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		known[p] = true
	}
	var names []string
	for _, rec := range records {
		if known[rec.Name] {
			names = append(names, rec.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
