package actions

import "github.com/blackwell-systems/appenv/internal/conda"

// Status values carried in UpdateResult.
const (
	StatusUpToDate         = "up-to-date"
	StatusAlreadyInstalled = "already-installed"
	StatusUpdated          = "updated"
	StatusPendingRestart   = "pending-restart"
	StatusCompleted        = "completed"
)

// UpdateCheck reports what the channel serves against what is installed.
type UpdateCheck struct {
	AvailableVersions []string `json:"available_versions"`
	CurrentVersion    string   `json:"current_version"`
	LatestVersion     string   `json:"latest_version"`
	PreviousVersion   string   `json:"previous_version,omitempty"`
	InstalledVersions []string `json:"installed_versions"`
	Update            bool     `json:"update"`
	Installed         bool     `json:"installed"`
}

// VersionInfo is the installed version and build of the application.
type VersionInfo struct {
	Version string `json:"version"`
	Build   string `json:"build_string,omitempty"`
}

// PackageList is the contents of one installed environment.
type PackageList struct {
	Version  string                `json:"version"`
	Packages []conda.PackageRecord `json:"packages"`
}

// UpdateResult reports how far an update ran and what it left behind.
type UpdateResult struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Previous string   `json:"previous_version,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// RestoreResult names the snapshot an environment was rebuilt from.
type RestoreResult struct {
	Version    string   `json:"version"`
	SnapshotID string   `json:"snapshot_id"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ResetResult reports a from-scratch reinstall.
type ResetResult struct {
	Version  string   `json:"version"`
	Warnings []string `json:"warnings,omitempty"`
}

// CleanResult lists the broken environment prefixes that were removed.
type CleanResult struct {
	Removed  []string `json:"removed"`
	Warnings []string `json:"warnings,omitempty"`
}

// LockResult reports whether a snapshot was taken. When the environment is
// unchanged since the last snapshot, Locked is false and SnapshotID names
// the snapshot already covering it.
type LockResult struct {
	Version    string `json:"version"`
	Locked     bool   `json:"locked"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// UninstallResult lists the versions whose environments were removed.
type UninstallResult struct {
	Removed  []string `json:"removed"`
	Warnings []string `json:"warnings,omitempty"`
}

// OpenResult reports the version that was launched.
type OpenResult struct {
	Version string `json:"version"`
}
