package conda

import (
	"fmt"
	"strings"
)

// Spec is a parsed package spec of the form name[=version][=build].
// A "*" (or omitted) version or build means unconstrained and is stored as
// the empty string.
type Spec struct {
	Name    string
	Version string
	Build   string
}

// ParseSpec parses "name[=version][=build]". Doubled separators from
// pip-style specs ("name==1.0") are tolerated.
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(s), "=")
	if parts[0] == "" {
		return Spec{}, fmt.Errorf("invalid package spec %q: empty name", s)
	}

	rest := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p != "" {
			rest = append(rest, p)
		}
	}
	if len(rest) > 2 {
		return Spec{}, fmt.Errorf("invalid package spec %q", s)
	}

	spec := Spec{Name: parts[0]}
	if len(rest) > 0 && rest[0] != "*" {
		spec.Version = rest[0]
	}
	if len(rest) > 1 && rest[1] != "*" {
		spec.Build = rest[1]
	}
	return spec, nil
}

// String renders the canonical spec form.
func (s Spec) String() string {
	switch {
	case s.Build != "":
		v := s.Version
		if v == "" {
			v = "*"
		}
		return s.Name + "=" + v + "=" + s.Build
	case s.Version != "":
		return s.Name + "=" + s.Version
	default:
		return s.Name
	}
}

// WithVersion returns a copy of the spec pinned to the given version.
func (s Spec) WithVersion(version string) Spec {
	s.Version = version
	return s
}

// PackageRecord is one entry of an environment's package list.
type PackageRecord struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Build    string `json:"build_string"`
	Channel  string `json:"channel"`
	Platform string `json:"platform"`
	Source   string `json:"source"`
	Related  bool   `json:"related"`
}

// Info is the subset of `conda info --json` the engine consumes.
type Info struct {
	Platform      string   `json:"platform"`
	CondaVersion  string   `json:"conda_version"`
	DefaultPrefix string   `json:"default_prefix"`
	EnvsDirs      []string `json:"envs_dirs"`
}

// RunError reports a package-manager subprocess that exited non-zero.
type RunError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
