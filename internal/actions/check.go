package actions

import (
	"context"
	"fmt"
	"os"

	"github.com/blackwell-systems/appenv/internal/versions"
)

// CheckUpdates queries the channel for available versions and compares them
// against what is installed. Prerelease versions are only considered when
// includeUnstable is set.
func (m *Manager) CheckUpdates(ctx context.Context, includeUnstable bool) (*UpdateCheck, error) {
	available, err := m.source.AvailableVersions(ctx, m.pkg(), m.spec.Build, m.channels, includeUnstable)
	if err != nil {
		return nil, fmt.Errorf("failed to check available versions: %w", err)
	}

	installed, err := m.envs.InstalledVersions(m.pkg())
	if err != nil {
		return nil, fmt.Errorf("failed to scan installed versions: %w", err)
	}
	installedVersions := make([]string, 0, len(installed))
	installedSet := make(map[string]bool, len(installed))
	for _, env := range installed {
		installedVersions = append(installedVersions, env.Version)
		installedSet[env.Version] = true
	}

	check := &UpdateCheck{
		AvailableVersions: available,
		CurrentVersion:    m.current,
		InstalledVersions: installedVersions,
	}
	if len(available) > 0 {
		check.LatestVersion = available[0]
	}
	check.PreviousVersion = versions.PreviousTo(available, m.current)
	check.Update = m.newerThanCurrent(check.LatestVersion)
	check.Installed = check.LatestVersion != "" && installedSet[check.LatestVersion]
	return check, nil
}

// CheckVersion reports the version the manager is bound to and its build
// string when that version is installed.
func (m *Manager) CheckVersion() (*VersionInfo, error) {
	info := &VersionInfo{Version: m.current}
	if m.current == "" {
		return info, nil
	}
	installed, err := m.envs.InstalledVersions(m.pkg())
	if err != nil {
		return nil, fmt.Errorf("failed to scan installed versions: %w", err)
	}
	for _, env := range installed {
		if env.Version == m.current {
			info.Build = env.Build
			break
		}
	}
	return info, nil
}

// CheckPackages lists the packages installed in the current environment.
// When pluginsURL is given, packages appearing in that plugin index are
// flagged as related.
func (m *Manager) CheckPackages(ctx context.Context, pluginsURL string) (*PackageList, error) {
	list := &PackageList{Version: m.current, Packages: nil}
	if m.current == "" {
		return list, nil
	}
	prefix := m.prefixOf(m.current)
	if _, err := os.Stat(prefix); err != nil {
		return list, nil
	}

	records, err := m.runner.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	if pluginsURL != "" {
		plugins, err := m.source.Plugins(ctx, pluginsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to list plugins: %w", err)
		}
		known := make(map[string]bool, len(plugins))
		for _, p := range plugins {
			known[p] = true
		}
		for i := range records {
			records[i].Related = known[records[i].Name]
		}
	}
	list.Packages = records
	return list, nil
}
