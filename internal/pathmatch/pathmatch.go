// Package pathmatch matches slash-separated relative paths against ignore and
// include patterns.
//
// Patterns can be:
//   - Directory components: "vendor/" matches "vendor/foo.go" and "src/vendor/foo.go"
//   - Globs: "*.bak" matches "old/a.bak" via the base name, "docs/*.md" via the full path
//   - Regular expressions: "re:^build/.*\.o$" is matched against the relative path
package pathmatch

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const regexPrefix = "re:"

// Matcher holds a compiled pattern list.
type Matcher struct {
	dirs    []string
	globs   []string
	regexps []*regexp.Regexp
}

// Validate reports whether p compiles.
func Validate(p string) error {
	_, err := Compile([]string{p})
	return err
}

// Compile parses patterns. Empty patterns are ignored.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		switch {
		case p == "":
			continue
		case strings.HasPrefix(p, regexPrefix):
			re, err := regexp.Compile(strings.TrimPrefix(p, regexPrefix))
			if err != nil {
				return nil, fmt.Errorf("compiling %q: %w", p, err)
			}
			m.regexps = append(m.regexps, re)
		case strings.HasSuffix(p, "/"):
			m.dirs = append(m.dirs, strings.TrimSuffix(p, "/"))
		default:
			if _, err := path.Match(p, ""); err != nil {
				return nil, fmt.Errorf("compiling %q: %w", p, err)
			}
			m.globs = append(m.globs, p)
		}
	}
	return m, nil
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return len(m.dirs) == 0 && len(m.globs) == 0 && len(m.regexps) == 0
}

// Match reports whether relPath (slash-separated) matches any pattern.
func (m *Matcher) Match(relPath string) bool {
	// Match directory patterns at path component boundaries to avoid false
	// matches, e.g. "vendor/" matches "vendor/foo" but not "vendorized/bar"
	for _, d := range m.dirs {
		if relPath == d || strings.HasPrefix(relPath, d+"/") || strings.Contains("/"+relPath+"/", "/"+d+"/") {
			return true
		}
	}

	base := path.Base(relPath)
	for _, g := range m.globs {
		if ok, _ := path.Match(g, relPath); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}

	for _, re := range m.regexps {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

// MatchDir reports whether a directory should be pruned. Only directory
// and regular-expression patterns prune directories; globs apply to files.
func (m *Matcher) MatchDir(relPath string) bool {
	for _, d := range m.dirs {
		if relPath == d || strings.HasPrefix(relPath, d+"/") || strings.HasSuffix("/"+relPath, "/"+d) {
			return true
		}
	}
	for _, re := range m.regexps {
		if re.MatchString(relPath + "/") {
			return true
		}
	}
	return false
}
