package site

import (
	"fmt"
	"path"

	"github.com/gobwas/glob"
)

// Ignore prunes directories and files during traversal and watching.
type Ignore struct {
	dirs     map[string]struct{}
	prefixes map[string]struct{}
	globs    []glob.Glob
}

// NewIgnore compiles directory names and glob patterns. Globs use "/" as
// separator, so "*" stays within a segment and "**" crosses segments.
func NewIgnore(dirs, globs []string) (*Ignore, error) {
	ig := &Ignore{
		dirs:     make(map[string]struct{}, len(dirs)),
		prefixes: make(map[string]struct{}),
	}
	for _, d := range dirs {
		ig.dirs[d] = struct{}{}
	}
	for _, p := range globs {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("site: compile ignore glob %q: %w", p, err)
		}
		ig.globs = append(ig.globs, g)
	}
	return ig, nil
}

// Exclude returns a copy that also prunes the given relative directories.
func (ig *Ignore) Exclude(rels ...string) *Ignore {
	cp := &Ignore{dirs: ig.dirs, globs: ig.globs, prefixes: make(map[string]struct{}, len(ig.prefixes)+len(rels))}
	for p := range ig.prefixes {
		cp.prefixes[p] = struct{}{}
	}
	for _, r := range rels {
		if r != "" && r != "." {
			cp.prefixes[r] = struct{}{}
		}
	}
	return cp
}

// SkipDir reports whether the directory at rel should not be descended into.
func (ig *Ignore) SkipDir(rel string) bool {
	if _, ok := ig.dirs[path.Base(rel)]; ok {
		return true
	}
	if _, ok := ig.prefixes[rel]; ok {
		return true
	}
	return ig.match(rel)
}

// SkipFile reports whether the file at rel is ignored.
func (ig *Ignore) SkipFile(rel string) bool {
	return ig.match(rel)
}

func (ig *Ignore) match(rel string) bool {
	base := path.Base(rel)
	for _, g := range ig.globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}
