package actions

import (
	"context"
	"fmt"
	"os"

	"github.com/blackwell-systems/appenv/internal/state"
)

// Restore rebuilds an environment from a snapshot. With an empty id the
// newest snapshot of the current version is used; otherwise the id names
// any recorded snapshot, whatever version it belongs to.
func (m *Manager) Restore(ctx context.Context, snapshotID string) (*RestoreResult, error) {
	var snap *state.Snapshot
	var err error
	switch {
	case snapshotID != "":
		snap, err = m.registry.Snapshot(m.pkg(), snapshotID)
		if err != nil {
			return nil, err
		}
	case m.current == "":
		return nil, fmt.Errorf("%w: no current version", ErrNoSnapshot)
	default:
		snap, err = m.registry.LatestSnapshot(m.pkg(), m.current)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("%w for %s", ErrNoSnapshot, m.current)
		}
	}
	return m.restoreFromSnapshot(ctx, snap)
}

// Revert rolls back to the version before the current one: the newest
// snapshot of the nearest strictly-older version is restored, then the
// superseded environment is removed.
func (m *Manager) Revert(ctx context.Context) (*RestoreResult, error) {
	if m.current == "" {
		return nil, fmt.Errorf("%w: no current version", ErrNoOlderSnapshot)
	}
	snap, err := m.registry.LatestSnapshotBefore(m.pkg(), m.current)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w than %s", ErrNoOlderSnapshot, m.current)
	}

	res, err := m.restoreFromSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	m.stage("Removing " + m.appSpec(m.current))
	if err := m.removeEnvironment(ctx, m.current); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to remove superseded environment: %v", err))
	}
	return res, nil
}

// restoreFromSnapshot replaces a version's environment with one rebuilt
// from the snapshot's pinned manifest.
func (m *Manager) restoreFromSnapshot(ctx context.Context, snap *state.Snapshot) (*RestoreResult, error) {
	res := &RestoreResult{Version: snap.Version, SnapshotID: snap.ID()}

	m.stage("Removing " + m.appSpec(snap.Version))
	if err := m.removeEnvironment(ctx, snap.Version); err != nil {
		return nil, err
	}

	m.stage("Restoring " + snap.Version + " from " + snap.ID())
	prefix := m.prefixOf(snap.Version)
	if err := m.runner.CreateFromFile(ctx, prefix, snap.ManifestPath); err != nil {
		return nil, fmt.Errorf("failed to restore environment: %w", err)
	}

	m.stage("Creating shortcuts for " + snap.Version)
	if err := m.shortcuts.Create(ctx, snap.Version); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to create shortcuts: %v", err))
	}
	if err := m.envs.Mark(m.pkg(), snap.Version); err != nil {
		return nil, fmt.Errorf("failed to mark environment: %w", err)
	}
	return res, nil
}

// Reset reinstalls from scratch: broken environments are swept, the target
// version's environment is removed and rebuilt from the channel, and a
// fresh snapshot is recorded. With nothing installed the channel's latest
// version is the target, so reset also recovers a wiped installation.
func (m *Manager) Reset(ctx context.Context) (*ResetResult, error) {
	version := m.current
	if version == "" {
		check, err := m.CheckUpdates(ctx, false)
		if err != nil {
			return nil, err
		}
		version = check.LatestVersion
	}
	if version == "" {
		return nil, fmt.Errorf("no version to reset to")
	}
	res := &ResetResult{Version: version}

	clean, err := m.CleanAll(ctx)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, clean.Warnings...)

	if _, err := os.Stat(m.prefixOf(version)); err == nil {
		m.stage("Removing " + m.appSpec(version))
		if err := m.removeEnvironment(ctx, version); err != nil {
			return nil, err
		}
	}

	m.stage("Installing " + m.appSpec(version))
	warns, err := m.createEnvironment(ctx, version, nil)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return nil, err
	}

	m.stage("Recording snapshot for " + version)
	if _, err := m.lockVersion(ctx, version, ""); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("snapshot not recorded: %v", err))
	}

	m.stage("Creating shortcuts for " + version)
	if err := m.shortcuts.Create(ctx, version); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to create shortcuts: %v", err))
	}
	if err := m.envs.Mark(m.pkg(), version); err != nil {
		return nil, fmt.Errorf("failed to mark environment: %w", err)
	}

	clean, err = m.CleanAll(ctx)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, clean.Warnings...)
	return res, nil
}

// CleanAll deletes every unmarked environment directory for the package.
// These are leftovers from interrupted installs or removals; they are
// plain directory trees by now, so they are deleted directly rather than
// through the package manager.
func (m *Manager) CleanAll(ctx context.Context) (*CleanResult, error) {
	broken, err := m.envs.BrokenEnvironments(m.pkg())
	if err != nil {
		return nil, fmt.Errorf("failed to scan environments: %w", err)
	}
	res := &CleanResult{Removed: []string{}}
	for _, prefix := range broken {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.stage("Deleting " + prefix)
		if err := os.RemoveAll(prefix); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to delete %s: %v", prefix, err))
			continue
		}
		res.Removed = append(res.Removed, prefix)
	}
	return res, nil
}
