package actions

import (
	"context"
	"fmt"
	"os"

	"github.com/blackwell-systems/appenv/internal/conda"
	"github.com/blackwell-systems/appenv/internal/state"
)

// LockEnvironment snapshots an installed environment if its package list
// changed since the last snapshot. An empty version means the current one.
// An unchanged environment reports Locked=false with the snapshot that
// already covers it.
func (m *Manager) LockEnvironment(ctx context.Context, version, pluginsURL string) (*LockResult, error) {
	if version == "" {
		version = m.current
	}
	if version == "" {
		return nil, fmt.Errorf("%w: no current version", ErrEnvironmentMissing)
	}
	return m.lockVersion(ctx, version, pluginsURL)
}

// lockVersion records a snapshot of one installed version. The full package
// listing decides whether anything changed; the lock input pins only the
// application and its related packages so the solver stays free on the
// rest.
func (m *Manager) lockVersion(ctx context.Context, version, pluginsURL string) (*LockResult, error) {
	prefix := m.prefixOf(version)
	if _, err := os.Stat(prefix); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentMissing, prefix)
	}

	records, err := m.runner.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	full := make([]string, 0, len(records))
	for _, rec := range records {
		full = append(full, pinRecord(rec))
	}

	should, err := m.registry.ShouldLock(m.pkg(), version, full)
	if err != nil {
		return nil, fmt.Errorf("failed to compare package lists: %w", err)
	}
	if !should {
		res := &LockResult{Version: version, Locked: false}
		if snap, err := m.registry.LatestSnapshot(m.pkg(), version); err == nil && snap != nil {
			res.SnapshotID = snap.ID()
		}
		return res, nil
	}

	condaPins := []string{conda.Spec{Name: m.pkg(), Version: version}.String()}
	var pipPins []string
	if pluginsURL != "" {
		plugins, err := m.source.Plugins(ctx, pluginsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to list plugins: %w", err)
		}
		known := make(map[string]bool, len(plugins))
		for _, p := range plugins {
			known[p] = true
		}
		for _, rec := range records {
			if !known[rec.Name] {
				continue
			}
			if rec.Source == "pip" {
				pipPins = append(pipPins, pinRecord(rec))
			} else {
				condaPins = append(condaPins, pinRecord(rec))
			}
		}
	}

	info, err := m.runner.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform info: %w", err)
	}

	m.stage("Resolving snapshot for " + version)
	snap, err := m.registry.Lock(ctx, m.runner, state.LockInput{
		Package:  m.pkg(),
		Version:  version,
		Conda:    condaPins,
		Pip:      pipPins,
		Packages: full,
		Channels: m.channels,
		Platform: info.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock environment: %w", err)
	}
	return &LockResult{Version: version, Locked: true, SnapshotID: snap.ID()}, nil
}

// pinRecord renders a package record as an exact pin in its own
// ecosystem's syntax.
func pinRecord(rec conda.PackageRecord) string {
	if rec.Source == "pip" {
		return rec.Name + "==" + rec.Version
	}
	return rec.Name + "=" + rec.Version
}
