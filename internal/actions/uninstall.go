package actions

import (
	"context"
	"fmt"
)

// Uninstall removes every installed environment for the package, sweeps
// broken leftovers, and drops the recorded snapshots. The configuration
// directory itself is left to the caller.
func (m *Manager) Uninstall(ctx context.Context) (*UninstallResult, error) {
	installed, err := m.envs.InstalledVersions(m.pkg())
	if err != nil {
		return nil, fmt.Errorf("failed to scan installed versions: %w", err)
	}

	res := &UninstallResult{Removed: []string{}}
	for _, env := range installed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.stage("Removing " + m.appSpec(env.Version))
		if err := m.removeEnvironment(ctx, env.Version); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to remove %s: %v", env.Version, err))
			continue
		}
		res.Removed = append(res.Removed, env.Version)
	}

	clean, err := m.CleanAll(ctx)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, clean.Warnings...)

	if err := m.registry.RemovePackageState(m.pkg()); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to remove recorded state: %v", err))
	}
	return res, nil
}

// Open launches an installed version through its OS shortcut, falling back
// to the environment's own binary.
func (m *Manager) Open(version string) (*OpenResult, error) {
	if version == "" {
		version = m.current
	}
	if version == "" || !m.envs.IsMarked(m.pkg(), version) {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentMissing, m.appSpec(version))
	}
	if err := m.shortcuts.Open(version); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", version, err)
	}
	return &OpenResult{Version: version}, nil
}
