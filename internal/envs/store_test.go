package envs

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestStore creates a Store over a temp base prefix.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

// makeEnv lays down an environment directory with a conda-meta dir and an
// optional package metadata record.
func makeEnv(t *testing.T, s *Store, pkg, version, build string) string {
	t.Helper()
	prefix := s.PrefixFor(pkg, version)
	metaDir := filepath.Join(prefix, metaDirName)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		t.Fatalf("failed to create env dirs: %v", err)
	}
	if build != "" {
		record := filepath.Join(metaDir, pkg+"-"+version+"-"+build+".json")
		if err := os.WriteFile(record, []byte("{}"), 0644); err != nil {
			t.Fatalf("failed to write metadata record: %v", err)
		}
	}
	return prefix
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"napari_SVG.2", "napari-svg-2"},
		{"napari", "napari"},
		{"My__App..Name", "my-app-name"},
		{"a-b_c.d", "a-b-c-d"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
		// Normalizing twice must not change the result.
		if got := Normalize(Normalize(c.in)); got != c.want {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSentinelName(t *testing.T) {
	if got := SentinelName("My_App"); got != ".my-app_is_bundled" {
		t.Errorf("SentinelName(My_App) = %q, want .my-app_is_bundled", got)
	}
}

func TestMarkUnmarkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	makeEnv(t, s, "app", "0.4.16", "pyside")

	if s.IsMarked("app", "0.4.16") {
		t.Fatal("fresh environment should not be marked")
	}

	if err := s.Mark("app", "0.4.16"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}
	installed, err := s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 1 || installed[0].Version != "0.4.16" {
		t.Fatalf("InstalledVersions() = %v, want [0.4.16]", installed)
	}
	if installed[0].Build != "pyside" {
		t.Errorf("Build = %q, want pyside", installed[0].Build)
	}

	if err := s.Unmark("app", "0.4.16"); err != nil {
		t.Fatalf("Unmark() failed: %v", err)
	}
	installed, err = s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 0 {
		t.Errorf("InstalledVersions() after Unmark = %v, want empty", installed)
	}

	// Unmarking an already-unmarked version is a no-op, not an error.
	if err := s.Unmark("app", "0.4.16"); err != nil {
		t.Errorf("Unmark() on unmarked version should be a no-op, got %v", err)
	}
}

func TestMarkWithoutMetadataFails(t *testing.T) {
	s := newTestStore(t)
	// No env dir at all: the sentinel's parent is missing.
	if err := s.Mark("app", "0.4.16"); err == nil {
		t.Error("Mark() without a conda-meta dir should fail")
	}
}

func TestBrokenDetection(t *testing.T) {
	s := newTestStore(t)
	prefix := makeEnv(t, s, "app", "0.4.15", "")

	broken, err := s.BrokenEnvironments("app")
	if err != nil {
		t.Fatalf("BrokenEnvironments() failed: %v", err)
	}
	if len(broken) != 1 || broken[0] != prefix {
		t.Fatalf("BrokenEnvironments() = %v, want [%s]", broken, prefix)
	}
	installed, err := s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 0 {
		t.Errorf("unmarked env should not appear in InstalledVersions, got %v", installed)
	}

	// Marking flips the classification.
	if err := s.Mark("app", "0.4.15"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}
	broken, err = s.BrokenEnvironments("app")
	if err != nil {
		t.Fatalf("BrokenEnvironments() failed: %v", err)
	}
	if len(broken) != 0 {
		t.Errorf("BrokenEnvironments() after Mark = %v, want empty", broken)
	}
	installed, err = s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 1 {
		t.Errorf("InstalledVersions() after Mark = %v, want one entry", installed)
	}
}

func TestScanIgnoresForeignDirs(t *testing.T) {
	s := newTestStore(t)
	makeEnv(t, s, "app", "0.4.16", "")
	if err := s.Mark("app", "0.4.16"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}

	// Same prefix, different package.
	makeEnv(t, s, "other", "1.0.0", "")
	// Directory without conda-meta is not an environment.
	if err := os.MkdirAll(filepath.Join(s.EnvsDir(), "app-0.9.9"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	installed, err := s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 1 || installed[0].Version != "0.4.16" {
		t.Errorf("InstalledVersions() = %v, want only 0.4.16", installed)
	}
	broken, err := s.BrokenEnvironments("app")
	if err != nil {
		t.Fatalf("BrokenEnvironments() failed: %v", err)
	}
	if len(broken) != 0 {
		t.Errorf("BrokenEnvironments() = %v, want empty", broken)
	}
}

func TestDashedPackageNames(t *testing.T) {
	s := newTestStore(t)
	makeEnv(t, s, "my-app", "0.1.0", "")
	if err := s.Mark("my-app", "0.1.0"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}

	installed, err := s.InstalledVersions("my-app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	if len(installed) != 1 || installed[0].Version != "0.1.0" {
		t.Errorf("InstalledVersions(my-app) = %v, want [0.1.0]", installed)
	}
}

func TestInstalledVersionsSorted(t *testing.T) {
	s := newTestStore(t)
	for _, v := range []string{"0.4.17", "0.4.15", "0.4.16"} {
		makeEnv(t, s, "app", v, "")
		if err := s.Mark("app", v); err != nil {
			t.Fatalf("Mark(%s) failed: %v", v, err)
		}
	}

	installed, err := s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() failed: %v", err)
	}
	want := []string{"0.4.15", "0.4.16", "0.4.17"}
	if len(installed) != len(want) {
		t.Fatalf("InstalledVersions() returned %d envs, want %d", len(installed), len(want))
	}
	for i, v := range want {
		if installed[i].Version != v {
			t.Errorf("InstalledVersions()[%d] = %s, want %s", i, installed[i].Version, v)
		}
	}
}

func TestMissingEnvsDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nowhere"))
	installed, err := s.InstalledVersions("app")
	if err != nil {
		t.Fatalf("InstalledVersions() on missing envs dir failed: %v", err)
	}
	if len(installed) != 0 {
		t.Errorf("InstalledVersions() = %v, want empty", installed)
	}
}
