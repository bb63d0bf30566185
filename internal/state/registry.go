// Package state is the registry of environment lock snapshots: for each
// package and version it keeps resolved dependency manifests (the lock
// files) and the package lists they were produced from, so an environment
// can be rebuilt exactly as it was at a point in time.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/appenv/internal/versions"
)

// TimestampLayout names snapshot files; lexical order equals chronological
// order.
const TimestampLayout = "2006-01-02-15-04-05"

// Snapshot is one immutable lock record. Its id is the manifest file name.
type Snapshot struct {
	Package      string    `json:"package"`
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	ManifestPath string    `json:"manifest_path"`
	ListPath     string    `json:"list_path,omitempty"`
	Packages     []string  `json:"packages,omitempty"`
}

// ID returns the snapshot identifier used on the command line.
func (s *Snapshot) ID() string { return filepath.Base(s.ManifestPath) }

// Locker resolves an environment file into a pinned manifest. Satisfied by
// the conda executor.
type Locker interface {
	Lock(ctx context.Context, envFile, platform, outPath string) error
}

// LockInput describes one environment to snapshot. Conda and Pip are the
// pins fed to the solver; Packages is the full environment listing recorded
// for ShouldLock comparisons, defaulting to Conda+Pip when empty.
type LockInput struct {
	Package  string
	Version  string
	Conda    []string // conda pins, name=version
	Pip      []string // pip pins, name==version
	Packages []string
	Channels []string
	Platform string
}

// Registry stores snapshots under <root>/state, package lists under
// <root>/list and lock input specs under <root>/env.
type Registry struct {
	root string
}

// NewRegistry returns a Registry rooted at the config directory.
func NewRegistry(configRoot string) *Registry {
	return &Registry{root: configRoot}
}

func (r *Registry) StateDir() string { return filepath.Join(r.root, "state") }
func (r *Registry) ListDir() string  { return filepath.Join(r.root, "list") }
func (r *Registry) EnvDir() string   { return filepath.Join(r.root, "env") }

// recordedList reads the newest package list for a version. A missing list
// is (nil, nil).
func (r *Registry) recordedList(pkg, version string) ([]string, error) {
	pattern := filepath.Join(r.ListDir(), pkg+"-"+version+"-*-list.yml")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil, nil
	}
	sort.Strings(matches)
	return readList(matches[len(matches)-1])
}

func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package list %s: %w", path, err)
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode package list %s: %w", path, err)
	}
	return list, nil
}

// ShouldLock reports whether the current package list differs from the most
// recently recorded one (or no record exists yet).
func (r *Registry) ShouldLock(pkg, version string, current []string) (bool, error) {
	recorded, err := r.recordedList(pkg, version)
	if err != nil {
		return false, err
	}
	if recorded == nil {
		return true, nil
	}
	return !reflect.DeepEqual(sortedCopy(recorded), sortedCopy(current)), nil
}

func sortedCopy(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	sort.Strings(out)
	return out
}

type environmentDoc struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

// Lock snapshots an environment: writes the lock input spec, resolves it
// through the locker into a temp file, strips comment lines, and renames the
// result into place so a killed process never leaves a half-written snapshot
// under its final name. The package list is recorded the same way.
func (r *Registry) Lock(ctx context.Context, locker Locker, in LockInput) (*Snapshot, error) {
	for _, dir := range []string{r.StateDir(), r.ListDir(), r.EnvDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	doc := environmentDoc{
		Name:     in.Package + "-" + in.Version,
		Channels: in.Channels,
	}
	for _, dep := range in.Conda {
		doc.Dependencies = append(doc.Dependencies, dep)
	}
	if len(in.Pip) > 0 {
		doc.Dependencies = append(doc.Dependencies, "pip")
		doc.Dependencies = append(doc.Dependencies, map[string][]string{"pip": in.Pip})
	}
	envData, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode environment spec: %w", err)
	}
	envFile := filepath.Join(r.EnvDir(), in.Package+"-"+in.Version+"-environment.yml")
	if err := os.WriteFile(envFile, envData, 0644); err != nil {
		return nil, fmt.Errorf("write environment spec: %w", err)
	}

	now := time.Now()
	stem := in.Package + "-" + in.Version + "-" + now.Format(TimestampLayout)
	manifest := filepath.Join(r.StateDir(), stem+"-lock.yml")

	tmp := filepath.Join(r.StateDir(), "."+uuid.NewString()+".tmp")
	defer os.Remove(tmp)
	if err := locker.Lock(ctx, envFile, in.Platform, tmp); err != nil {
		return nil, err
	}
	resolved, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read resolved manifest: %w", err)
	}
	if err := os.WriteFile(tmp, stripComments(resolved), 0644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, manifest); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}

	packages := in.Packages
	if len(packages) == 0 {
		packages = append(append([]string{}, in.Conda...), in.Pip...)
	}
	packages = sortedCopy(packages)
	listData, err := yaml.Marshal(packages)
	if err != nil {
		return nil, fmt.Errorf("encode package list: %w", err)
	}
	listPath := filepath.Join(r.ListDir(), stem+"-list.yml")
	listTmp := filepath.Join(r.ListDir(), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(listTmp, listData, 0644); err != nil {
		return nil, fmt.Errorf("write package list: %w", err)
	}
	if err := os.Rename(listTmp, listPath); err != nil {
		os.Remove(listTmp)
		return nil, fmt.Errorf("publish package list: %w", err)
	}

	return &Snapshot{
		Package:      in.Package,
		Version:      in.Version,
		Timestamp:    now,
		ManifestPath: manifest,
		ListPath:     listPath,
		Packages:     packages,
	}, nil
}

// stripComments drops lines whose first non-blank character is '#'.
func stripComments(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return []byte(strings.Join(kept, "\n"))
}

// snapshots returns every snapshot for a package, unsorted.
func (r *Registry) snapshots(pkg string) ([]*Snapshot, error) {
	pattern := filepath.Join(r.StateDir(), pkg+"-*-lock.yml")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	var out []*Snapshot
	for _, m := range matches {
		if snap, ok := r.parseManifestName(pkg, m); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (r *Registry) parseManifestName(pkg, manifestPath string) (*Snapshot, bool) {
	name := filepath.Base(manifestPath)
	stem, ok := strings.CutSuffix(name, "-lock.yml")
	if !ok {
		return nil, false
	}
	rest, ok := strings.CutPrefix(stem, pkg+"-")
	if !ok || len(rest) < len(TimestampLayout)+2 {
		return nil, false
	}
	tsPart := rest[len(rest)-len(TimestampLayout):]
	version := rest[:len(rest)-len(TimestampLayout)-1]
	ts, err := time.ParseInLocation(TimestampLayout, tsPart, time.Local)
	if err != nil || version == "" {
		return nil, false
	}
	return &Snapshot{
		Package:      pkg,
		Version:      version,
		Timestamp:    ts,
		ManifestPath: manifestPath,
		ListPath:     filepath.Join(r.ListDir(), pkg+"-"+version+"-"+tsPart+"-list.yml"),
	}, true
}

// AvailableSnapshots maps each version to its snapshot ids, newest first.
func (r *Registry) AvailableSnapshots(pkg string) (map[string][]string, error) {
	snaps, err := r.snapshots(pkg)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]*Snapshot)
	for _, s := range snaps {
		grouped[s.Version] = append(grouped[s.Version], s)
	}
	out := make(map[string][]string, len(grouped))
	for version, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.ID()
		}
		out[version] = ids
	}
	return out, nil
}

// Snapshot resolves a snapshot id for a package, loading its package list.
func (r *Registry) Snapshot(pkg, id string) (*Snapshot, error) {
	manifest := filepath.Join(r.StateDir(), filepath.Base(id))
	if _, err := os.Stat(manifest); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	snap, ok := r.parseManifestName(pkg, manifest)
	if !ok {
		return nil, fmt.Errorf("snapshot %s does not belong to %s", id, pkg)
	}
	if list, err := readList(snap.ListPath); err == nil {
		snap.Packages = list
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot of one version, or nil when the
// version has none.
func (r *Registry) LatestSnapshot(pkg, version string) (*Snapshot, error) {
	snaps, err := r.snapshots(pkg)
	if err != nil {
		return nil, err
	}
	var latest *Snapshot
	for _, s := range snaps {
		if s.Version != version {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	if latest != nil {
		if list, err := readList(latest.ListPath); err == nil {
			latest.Packages = list
		}
	}
	return latest, nil
}

// LatestSnapshotBefore returns the newest snapshot of the nearest version
// strictly older than current, or nil when no older version has a snapshot.
func (r *Registry) LatestSnapshotBefore(pkg, current string) (*Snapshot, error) {
	cur, err := versions.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("parse current version: %w", err)
	}
	snaps, err := r.snapshots(pkg)
	if err != nil {
		return nil, err
	}

	newestPerVersion := make(map[string]*Snapshot)
	var older []string
	for _, s := range snaps {
		v, err := versions.Parse(s.Version)
		if err != nil || !v.LessThan(cur) {
			continue
		}
		if prev, ok := newestPerVersion[s.Version]; !ok || s.Timestamp.After(prev.Timestamp) {
			if !ok {
				older = append(older, s.Version)
			}
			newestPerVersion[s.Version] = s
		}
	}
	if len(older) == 0 {
		return nil, nil
	}
	desc, err := versions.SortDescending(older)
	if err != nil {
		return nil, err
	}
	best := newestPerVersion[desc[0]]
	if list, err := readList(best.ListPath); err == nil {
		best.Packages = list
	}
	return best, nil
}

// RemovePackageState deletes every state, list and env record for a package.
func (r *Registry) RemovePackageState(pkg string) error {
	patterns := []string{
		filepath.Join(r.StateDir(), pkg+"-*-lock.yml"),
		filepath.Join(r.ListDir(), pkg+"-*-list.yml"),
		filepath.Join(r.EnvDir(), pkg+"-*-environment.yml"),
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", m, err)
			}
		}
	}
	return nil
}
