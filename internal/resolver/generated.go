package resolver

import (
	"strings"

	"github.com/starford/marksite/internal/site"
)

// GeneratedKind enumerates the pages synthesized from tag sources.
type GeneratedKind int

const (
	TagIndex GeneratedKind = iota + 1
	TagPage
)

// Generated identifies a synthesized page.
type Generated struct {
	Kind   GeneratedKind
	Source string
	Tag    string
}

// ResolveGenerated matches request paths against tag source routes. Callers
// consult it only after Resolve found neither a page nor a file, so real
// content always takes precedence.
func ResolveGenerated(requestPath string, idx *site.Index) (Generated, bool) {
	c := Canonical(requestPath)
	if c != "/" {
		c += "/"
	}
	for _, src := range idx.Sources() {
		if c == src.URLPath {
			return Generated{Kind: TagIndex, Source: src.ID}, true
		}
		rest, ok := strings.CutPrefix(c, src.URLPath)
		if !ok {
			continue
		}
		tag := strings.TrimSuffix(rest, "/")
		if _, ok := src.Tags[tag]; ok {
			return Generated{Kind: TagPage, Source: src.ID, Tag: tag}, true
		}
	}
	return Generated{}, false
}
