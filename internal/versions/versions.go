// Package versions implements ordering and stability rules for the
// dot-separated version strings published on conda channels.
//
// The numeric release core ("0.4.17") is compared through
// hashicorp/go-version, which pads shorter forms with zeros. A trailing
// pre/post-release tag ("dev0", "a1", "rc2", "post1") is ranked below or
// above the plain release: dev < alpha < beta < rc < release < post.
package versions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Phase ranks for pre/post-release tags. A version with no tag is a final
// release and sorts between rc and post.
const (
	phaseDev = iota
	phaseAlpha
	phaseBeta
	phaseRC
	phaseFinal
	phasePost
)

var phaseNames = map[string]int{
	"dev":   phaseDev,
	"a":     phaseAlpha,
	"alpha": phaseAlpha,
	"b":     phaseBeta,
	"beta":  phaseBeta,
	"c":     phaseRC,
	"rc":    phaseRC,
	"post":  phasePost,
	"r":     phasePost,
	"rev":   phasePost,
}

// Version is a parsed version string.
type Version struct {
	raw   string
	core  *goversion.Version
	phase int
	pre   int // numeric part of the tag, -1 when absent
}

// Parse splits a version string into its numeric release core and optional
// pre/post-release tag. Epoch ("1!2.0") and local-label ("+g1234") forms are
// not accepted; the channels this tool consumes never publish them.
func Parse(s string) (*Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}

	// Find the first alphabetic rune; everything before it is the release
	// core, everything from it on is the tag.
	tagStart := -1
	for i, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			tagStart = i
			break
		}
		if r == '!' || r == '+' {
			return nil, fmt.Errorf("unsupported version %q", s)
		}
	}

	core := s
	tag := ""
	if tagStart >= 0 {
		core = strings.TrimRight(s[:tagStart], ".-_")
		tag = s[tagStart:]
	}
	if core == "" {
		return nil, fmt.Errorf("version %q has no numeric release", s)
	}

	gv, err := goversion.NewVersion(core)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", s, err)
	}

	v := &Version{raw: s, core: gv, phase: phaseFinal, pre: -1}
	if tag != "" {
		if err := v.parseTag(strings.ToLower(tag)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Version) parseTag(tag string) error {
	i := 0
	for i < len(tag) && tag[i] >= 'a' && tag[i] <= 'z' {
		i++
	}
	word := tag[:i]
	rest := strings.TrimLeft(tag[i:], ".-_")

	phase, ok := phaseNames[word]
	if !ok {
		// Unrecognized tags ("preview", "nightly") rank with alphas; the
		// stability filter already keeps them out of default listings.
		phase = phaseAlpha
	}
	v.phase = phase

	if rest == "" {
		return nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return fmt.Errorf("unsupported version %q", v.raw)
	}
	v.pre = n
	return nil
}

// String returns the version as originally written.
func (v *Version) String() string { return v.raw }

// Compare returns -1, 0, or 1 ordering v against o.
func (v *Version) Compare(o *Version) int {
	if c := v.core.Compare(o.core); c != 0 {
		return c
	}
	if v.phase != o.phase {
		if v.phase < o.phase {
			return -1
		}
		return 1
	}
	if v.pre != o.pre {
		if v.pre < o.pre {
			return -1
		}
		return 1
	}
	return 0
}

func (v *Version) LessThan(o *Version) bool    { return v.Compare(o) < 0 }
func (v *Version) GreaterThan(o *Version) bool { return v.Compare(o) > 0 }
func (v *Version) Equal(o *Version) bool       { return v.Compare(o) == 0 }

// IsStable reports whether a version string names a final release. A version
// is unstable when its last dot-separated component carries any letter
// ("0.4.15rc1", "0.4.1.dev0", "1.0.post1").
func IsStable(s string) bool {
	parts := strings.Split(s, ".")
	last := parts[len(parts)-1]
	for _, r := range last {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// StableOnly filters a version list down to final releases, preserving order.
func StableOnly(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if IsStable(s) {
			out = append(out, s)
		}
	}
	return out
}

// SortAscending sorts version strings oldest first. Any unparseable entry
// fails the whole sort; callers filter junk beforehand.
func SortAscending(list []string) ([]string, error) {
	parsed := make([]*Version, len(list))
	for i, s := range list {
		v, err := Parse(s)
		if err != nil {
			return nil, err
		}
		parsed[i] = v
	}
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].LessThan(parsed[j]) })
	out := make([]string, len(list))
	for i, v := range parsed {
		out[i] = v.String()
	}
	return out, nil
}

// SortDescending sorts version strings newest first.
func SortDescending(list []string) ([]string, error) {
	asc, err := SortAscending(list)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc, nil
}

// Latest returns the newest version in the list.
func Latest(list []string) (string, error) {
	if len(list) == 0 {
		return "", fmt.Errorf("no versions")
	}
	desc, err := SortDescending(list)
	if err != nil {
		return "", err
	}
	return desc[0], nil
}

// PreviousTo returns the entry immediately older than current in the list,
// or "" when current is the oldest or does not appear.
func PreviousTo(list []string, current string) string {
	cur, err := Parse(current)
	if err != nil {
		return ""
	}
	desc, err := SortDescending(list)
	if err != nil {
		return ""
	}
	for i, s := range desc {
		v, err := Parse(s)
		if err != nil {
			return ""
		}
		if v.Equal(cur) && i+1 < len(desc) {
			return desc[i+1]
		}
	}
	return ""
}
