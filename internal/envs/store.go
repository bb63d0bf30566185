// Package envs is the filesystem registry of installed application
// environments. One environment lives under <base>/envs/<package>-<version>;
// a sentinel file inside its conda-meta directory marks the environment as
// fully created and safe to use. Metadata without a sentinel means an
// interrupted create, a broken environment.
package envs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/blackwell-systems/appenv/internal/versions"
)

const metaDirName = "conda-meta"

var separatorRuns = regexp.MustCompile(`[-_.]+`)

// Normalize lowercases a package name and collapses runs of '-', '_' and '.'
// into a single '-'. Sentinel names and directory matching both rely on it,
// so names from different sources agree. Idempotent.
func Normalize(name string) string {
	return strings.ToLower(separatorRuns.ReplaceAllString(name, "-"))
}

// SentinelName returns the marker file name for a package.
func SentinelName(pkg string) string {
	return "." + Normalize(pkg) + "_is_bundled"
}

// Environment describes one on-disk environment.
type Environment struct {
	Package string `json:"package"`
	Version string `json:"version"`
	Build   string `json:"build,omitempty"`
	Prefix  string `json:"prefix"`
	Marked  bool   `json:"marked"`
}

// Store scans and marks environments under a single base prefix.
type Store struct {
	base string
}

// NewStore returns a Store rooted at the given base prefix.
func NewStore(basePrefix string) *Store {
	return &Store{base: basePrefix}
}

// Base returns the base prefix.
func (s *Store) Base() string { return s.base }

// EnvsDir returns the directory holding all environments.
func (s *Store) EnvsDir() string { return filepath.Join(s.base, "envs") }

// PrefixFor returns the environment prefix for a package at a version.
func (s *Store) PrefixFor(pkg, version string) string {
	return filepath.Join(s.EnvsDir(), pkg+"-"+version)
}

func (s *Store) sentinelPath(prefix, pkg string) string {
	return filepath.Join(prefix, metaDirName, SentinelName(pkg))
}

// IsMarked reports whether the environment for pkg at version carries the
// sentinel.
func (s *Store) IsMarked(pkg, version string) bool {
	_, err := os.Stat(s.sentinelPath(s.PrefixFor(pkg, version), pkg))
	return err == nil
}

// Mark drops the sentinel into the environment's metadata directory. The
// environment must exist (its conda-meta directory must be present).
func (s *Store) Mark(pkg, version string) error {
	path := s.sentinelPath(s.PrefixFor(pkg, version), pkg)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("mark %s-%s: %w", pkg, version, err)
	}
	return nil
}

// Unmark removes the sentinel. Removing an absent sentinel is a no-op.
func (s *Store) Unmark(pkg, version string) error {
	path := s.sentinelPath(s.PrefixFor(pkg, version), pkg)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unmark %s-%s: %w", pkg, version, err)
	}
	return nil
}

// InstalledVersions returns the marked environments for a package, oldest
// version first.
func (s *Store) InstalledVersions(pkg string) ([]Environment, error) {
	all, err := s.scan(pkg)
	if err != nil {
		return nil, err
	}
	installed := make([]Environment, 0, len(all))
	for _, e := range all {
		if e.Marked {
			installed = append(installed, e)
		}
	}
	return installed, nil
}

// BrokenEnvironments returns the prefixes of environments that have package
// metadata but no sentinel.
func (s *Store) BrokenEnvironments(pkg string) ([]string, error) {
	all, err := s.scan(pkg)
	if err != nil {
		return nil, err
	}
	var broken []string
	for _, e := range all {
		if !e.Marked {
			broken = append(broken, e.Prefix)
		}
	}
	return broken, nil
}

// scan walks <base>/envs for directories named <pkg>-<version> whose
// conda-meta directory exists, classifying each by sentinel presence.
func (s *Store) scan(pkg string) ([]Environment, error) {
	entries, err := os.ReadDir(s.EnvsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read envs dir: %w", err)
	}

	var found []Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version, ok := strings.CutPrefix(entry.Name(), pkg+"-")
		if !ok || version == "" {
			continue
		}
		prefix := filepath.Join(s.EnvsDir(), entry.Name())
		if fi, err := os.Stat(filepath.Join(prefix, metaDirName)); err != nil || !fi.IsDir() {
			continue
		}

		env := Environment{
			Package: pkg,
			Version: version,
			Prefix:  prefix,
		}
		if _, err := os.Stat(s.sentinelPath(prefix, pkg)); err == nil {
			env.Marked = true
			env.Build = s.buildString(prefix, pkg, version)
		}
		found = append(found, env)
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, errA := versions.Parse(found[i].Version)
		b, errB := versions.Parse(found[j].Version)
		if errA != nil || errB != nil {
			return found[i].Version < found[j].Version
		}
		return a.LessThan(b)
	})
	return found, nil
}

// buildString recovers the build tag from the package's own metadata record,
// conda-meta/<pkg>-<version>-<build>.json.
func (s *Store) buildString(prefix, pkg, version string) string {
	pattern := filepath.Join(prefix, metaDirName, pkg+"-"+version+"-*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(matches[0]), ".json")
	return strings.TrimPrefix(base, pkg+"-"+version+"-")
}
