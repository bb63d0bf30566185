// Package config resolves the appenv configuration root, the optional
// settings file, and the base prefix environments live under.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultChannel is used when neither flags nor settings name a channel.
const DefaultChannel = "conda-forge"

// Root returns the configuration root directory: the explicit override,
// $APPENV_HOME, or ~/.appenv.
func Root(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv("APPENV_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".appenv"), nil
}

// LockDir holds the transition lock.
func LockDir(root string) string { return filepath.Join(root, "lock") }

// LogDir holds rotated log files.
func LogDir(root string) string { return filepath.Join(root, "log") }

// HistoryPath is the action journal database.
func HistoryPath(root string) string { return filepath.Join(root, "history.db") }

// SettingsPath is the optional defaults file.
func SettingsPath(root string) string { return filepath.Join(root, "settings.yml") }

// Settings are per-installation defaults commands fall back to when flags
// and arguments are absent.
type Settings struct {
	Application string   `yaml:"application,omitempty"`
	Channels    []string `yaml:"channels,omitempty"`
	PluginsURL  string   `yaml:"plugins_url,omitempty"`
	BasePrefix  string   `yaml:"base_prefix,omitempty"`
	Dev         bool     `yaml:"dev,omitempty"`
}

// LoadSettings reads <root>/settings.yml. A missing file returns defaults
// without an error.
func LoadSettings(root string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(SettingsPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			s.Channels = []string{DefaultChannel}
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", SettingsPath(root), err)
	}
	if len(s.Channels) == 0 {
		s.Channels = []string{DefaultChannel}
	}
	return s, nil
}

// BasePrefix discovers the directory whose envs/ subdirectory holds the
// managed environments: the explicit override, the settings file,
// $APPENV_BASE_PREFIX, $CONDA_PREFIX, or an ancestor of the running
// executable that contains envs/.
func BasePrefix(override string, settings *Settings) (string, error) {
	if override != "" {
		return override, nil
	}
	if settings != nil && settings.BasePrefix != "" {
		return settings.BasePrefix, nil
	}
	if env := os.Getenv("APPENV_BASE_PREFIX"); env != "" {
		return env, nil
	}
	if prefix := os.Getenv("CONDA_PREFIX"); prefix != "" {
		return baseFromEnvPrefix(prefix), nil
	}
	if exe, err := os.Executable(); err == nil {
		if base, ok := findBaseFrom(filepath.Dir(exe)); ok {
			return base, nil
		}
	}
	return "", fmt.Errorf("cannot determine base prefix, set APPENV_BASE_PREFIX or pass --base-prefix")
}

// baseFromEnvPrefix maps an activated environment prefix back to its base:
// <base>/envs/<name> resolves to <base>, anything else is already a base.
func baseFromEnvPrefix(prefix string) string {
	parent := filepath.Dir(prefix)
	if filepath.Base(parent) == "envs" {
		return filepath.Dir(parent)
	}
	return prefix
}

// findBaseFrom walks up from dir looking for a directory that contains
// envs/.
func findBaseFrom(dir string) (string, bool) {
	for {
		if fi, err := os.Stat(filepath.Join(dir, "envs")); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
