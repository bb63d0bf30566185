package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRootPrecedence(t *testing.T) {
	t.Setenv("APPENV_HOME", "/custom/appenv")

	got, err := Root("/explicit")
	if err != nil || got != "/explicit" {
		t.Errorf("Root(override) = %q, %v", got, err)
	}

	got, err = Root("")
	if err != nil || got != "/custom/appenv" {
		t.Errorf("Root() with APPENV_HOME = %q, %v", got, err)
	}

	t.Setenv("APPENV_HOME", "")
	got, err = Root("")
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	home, _ := os.UserHomeDir()
	if got != filepath.Join(home, ".appenv") {
		t.Errorf("Root() default = %q", got)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(s.Channels, []string{DefaultChannel}) {
		t.Errorf("channels = %v, want default", s.Channels)
	}
	if s.Application != "" || s.Dev {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestLoadSettingsValues(t *testing.T) {
	root := t.TempDir()
	content := `application: napari=0.4.16
channels:
  - napari
  - conda-forge
plugins_url: https://api.anaconda.org/napari-hub
base_prefix: /opt/napari
dev: true
`
	if err := os.WriteFile(SettingsPath(root), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(root)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Application != "napari=0.4.16" {
		t.Errorf("application = %q", s.Application)
	}
	if !reflect.DeepEqual(s.Channels, []string{"napari", "conda-forge"}) {
		t.Errorf("channels = %v", s.Channels)
	}
	if s.PluginsURL != "https://api.anaconda.org/napari-hub" {
		t.Errorf("plugins_url = %q", s.PluginsURL)
	}
	if s.BasePrefix != "/opt/napari" || !s.Dev {
		t.Errorf("base_prefix = %q dev = %v", s.BasePrefix, s.Dev)
	}
}

func TestLoadSettingsFillsDefaultChannel(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(SettingsPath(root), []byte("application: napari\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(root)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(s.Channels, []string{DefaultChannel}) {
		t.Errorf("channels = %v, want default", s.Channels)
	}
}

func TestBasePrefixPrecedence(t *testing.T) {
	t.Setenv("APPENV_BASE_PREFIX", "/env/base")
	t.Setenv("CONDA_PREFIX", "/conda/base")

	got, err := BasePrefix("/explicit", nil)
	if err != nil || got != "/explicit" {
		t.Errorf("BasePrefix(override) = %q, %v", got, err)
	}

	got, err = BasePrefix("", &Settings{BasePrefix: "/from/settings"})
	if err != nil || got != "/from/settings" {
		t.Errorf("BasePrefix(settings) = %q, %v", got, err)
	}

	got, err = BasePrefix("", nil)
	if err != nil || got != "/env/base" {
		t.Errorf("BasePrefix(env) = %q, %v", got, err)
	}
}

func TestBasePrefixFromCondaPrefix(t *testing.T) {
	t.Setenv("APPENV_BASE_PREFIX", "")
	t.Setenv("CONDA_PREFIX", filepath.Join("/opt/napari", "envs", "napari-0.4.16"))

	got, err := BasePrefix("", nil)
	if err != nil {
		t.Fatalf("BasePrefix: %v", err)
	}
	if got != "/opt/napari" {
		t.Errorf("base = %q, want /opt/napari", got)
	}

	// An activated base prefix resolves to itself.
	t.Setenv("CONDA_PREFIX", "/opt/napari")
	got, err = BasePrefix("", nil)
	if err != nil || got != "/opt/napari" {
		t.Errorf("base = %q, %v", got, err)
	}
}

func TestFindBaseFromAncestor(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "envs", "napari-0.4.16", "bin")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, ok := findBaseFrom(nested)
	if !ok || got != base {
		t.Errorf("findBaseFrom = %q, %v, want %q", got, ok, base)
	}

	if _, ok := findBaseFrom(t.TempDir()); ok {
		t.Error("findBaseFrom should fail without an envs dir")
	}
}
