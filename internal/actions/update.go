package actions

import (
	"context"
	"fmt"
	"os"
)

// updateStage tracks how far an update transitioned the target environment.
// Stages only advance; the furthest stage reached is reported in the result
// so a partial update can be diagnosed from the journal alone.
type updateStage int

const (
	stageNotPresent updateStage = iota
	stageCreating
	stageCreated
	stageLocked
	stageShortcut
	stageMarked
)

func (s updateStage) String() string {
	switch s {
	case stageCreating:
		return "creating"
	case stageCreated:
		return "created"
	case stageLocked:
		return "locked"
	case stageShortcut:
		return "shortcut"
	case stageMarked:
		return "marked"
	default:
		return "not-present"
	}
}

// UpdateOptions tune a single update run.
type UpdateOptions struct {
	// Delayed splits the update in two: the new environment is installed
	// and marked but the running version keeps its shortcuts and stays on
	// disk until a second run finishes the hand-over.
	Delayed bool

	// IncludeUnstable widens the version check to prerelease builds.
	IncludeUnstable bool

	// PluginsURL points at the plugin index used to carry related packages
	// over into the new environment.
	PluginsURL string
}

// Update checks for a newer version and installs it. With Delayed set it
// either starts the first phase or, when a newer marked environment is
// already waiting, finishes the hand-over instead.
func (m *Manager) Update(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	if opts.Delayed {
		target, err := m.pendingTarget(ctx, opts.IncludeUnstable)
		if err != nil {
			return nil, err
		}
		if target != "" {
			return m.finishDelayedUpdate(ctx, target)
		}
	}
	return m.BeginUpdate(ctx, opts)
}

// BeginUpdate installs the newest available version next to the current
// one. Snapshot, shortcut and plugin failures degrade to warnings; failing
// to create or mark the new environment is fatal.
func (m *Manager) BeginUpdate(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	check, err := m.CheckUpdates(ctx, opts.IncludeUnstable)
	if err != nil {
		return nil, err
	}
	if !check.Update {
		return &UpdateResult{Status: StatusUpToDate, Version: m.current}, nil
	}
	target := check.LatestVersion
	if m.envs.IsMarked(m.pkg(), target) {
		return &UpdateResult{Status: StatusAlreadyInstalled, Version: target}, nil
	}

	res := &UpdateResult{Version: target, Previous: m.current}

	// Plugins installed alongside the old version follow it into the new
	// environment, unpinned so they can move to compatible releases.
	related, warns := m.relatedNames(ctx, m.current, opts.PluginsURL)
	res.Warnings = append(res.Warnings, warns...)

	st := stageNotPresent
	if _, err := os.Stat(m.prefixOf(target)); err == nil {
		// A leftover from an earlier failed run. It is unmarked, or the
		// already-installed check above would have returned.
		m.stage("Removing leftover environment for " + target)
		if err := m.removeEnvironment(ctx, target); err != nil {
			return nil, err
		}
	}

	st = stageCreating
	m.stage("Installing " + m.appSpec(target))
	warns, err = m.createEnvironment(ctx, target, related)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return nil, err
	}
	st = stageCreated

	m.stage("Recording snapshot for " + target)
	if _, err := m.lockVersion(ctx, target, opts.PluginsURL); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("snapshot not recorded: %v", err))
	} else {
		st = stageLocked
	}

	if opts.Delayed {
		if err := m.envs.Mark(m.pkg(), target); err != nil {
			return nil, fmt.Errorf("failed to mark environment: %w", err)
		}
		st = stageMarked
		res.Status = StatusPendingRestart
		res.Stage = st.String()
		return res, nil
	}

	m.stage("Creating shortcuts for " + target)
	if err := m.shortcuts.Create(ctx, target); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to create shortcuts: %v", err))
	} else {
		st = stageShortcut
	}
	if err := m.envs.Mark(m.pkg(), target); err != nil {
		return nil, fmt.Errorf("failed to mark environment: %w", err)
	}
	st = stageMarked

	if m.current != "" {
		m.stage("Removing " + m.appSpec(m.current))
		if err := m.removeEnvironment(ctx, m.current); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to remove old environment: %v", err))
		}
	}

	res.Status = StatusUpdated
	res.Stage = st.String()
	return res, nil
}

// CompleteDelayedUpdate finishes a two-phase update: shortcuts move to the
// marked newer environment, the application relaunches from it, and the
// old environment is removed. Without a pending phase-one environment it
// returns ErrNoPendingUpdate.
func (m *Manager) CompleteDelayedUpdate(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	target, err := m.pendingTarget(ctx, opts.IncludeUnstable)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, ErrNoPendingUpdate
	}
	return m.finishDelayedUpdate(ctx, target)
}

// pendingTarget returns the version a delayed update is waiting to hand
// over to: the newest available version, already marked installed, strictly
// newer than the bound current version. Empty when there is none. The
// manager must be bound to the running version for the hand-over to know
// which environment to retire.
func (m *Manager) pendingTarget(ctx context.Context, includeUnstable bool) (string, error) {
	if m.current == "" {
		return "", nil
	}
	check, err := m.CheckUpdates(ctx, includeUnstable)
	if err != nil {
		return "", err
	}
	target := check.LatestVersion
	if target == "" || target == m.current || !m.envs.IsMarked(m.pkg(), target) {
		return "", nil
	}
	if !m.newerThanCurrent(target) {
		return "", nil
	}
	return target, nil
}

func (m *Manager) finishDelayedUpdate(ctx context.Context, target string) (*UpdateResult, error) {
	res := &UpdateResult{
		Status:   StatusCompleted,
		Version:  target,
		Previous: m.current,
		Stage:    stageMarked.String(),
	}
	m.stage("Creating shortcuts for " + target)
	if err := m.shortcuts.Create(ctx, target); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to create shortcuts: %v", err))
	}
	m.stage("Launching " + target)
	if err := m.shortcuts.Open(target); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to launch %s: %v", target, err))
	}
	m.stage("Removing " + m.appSpec(m.current))
	if err := m.removeEnvironment(ctx, m.current); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("failed to remove old environment: %v", err))
	}
	return res, nil
}
