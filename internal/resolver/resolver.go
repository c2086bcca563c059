// Package resolver maps request paths onto the resources of a site snapshot.
package resolver

import (
	"net/url"
	"path"
	"strings"

	"github.com/starford/marksite/internal/site"
)

// Kind enumerates what a request path resolves to.
type Kind int

const (
	NotFound Kind = iota
	MarkdownFile
	StaticFile
	DirectoryListing
)

func (k Kind) String() string {
	switch k {
	case MarkdownFile:
		return "markdown"
	case StaticFile:
		return "static"
	case DirectoryListing:
		return "directory"
	default:
		return "not_found"
	}
}

// Resolved is the outcome of resolving one request path. Path is relative to
// the content root and empty for NotFound.
type Resolved struct {
	Kind Kind
	Path string
}

// Canonical cleans a request path: percent-decoding, a leading slash,
// collapsed separators and dot segments. It never escapes the root.
func Canonical(requestPath string) string {
	p := requestPath
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	return path.Clean("/" + p)
}

// Resolve is a pure function of the request path and the snapshot. Rules
// apply in order: exact page url, directory index, page stem, static or
// asset file, directory listing, not found.
func Resolve(requestPath string, idx *site.Index) Resolved {
	c := Canonical(requestPath)
	dirKey := c
	if dirKey != "/" {
		dirKey += "/"
	}

	if f, ok := idx.File(dirKey); ok {
		return Resolved{Kind: MarkdownFile, Path: f.Path}
	}

	if folder, ok := idx.Folders[dirKey]; ok && folder.IndexFile != "" {
		return Resolved{Kind: MarkdownFile, Path: folder.IndexFile}
	}

	if stem := strings.TrimPrefix(c, "/"); stem != "" {
		if f, ok := idx.FileByStem(idx.Rules.Stem(stem)); ok {
			return Resolved{Kind: MarkdownFile, Path: f.Path}
		}
	}

	if rel, ok := idx.Static[c]; ok {
		return Resolved{Kind: StaticFile, Path: rel}
	}
	if rel, ok := idx.Assets[c]; ok {
		return Resolved{Kind: StaticFile, Path: rel}
	}

	if folder, ok := idx.Folders[dirKey]; ok {
		return Resolved{Kind: DirectoryListing, Path: folder.Path}
	}

	return Resolved{Kind: NotFound}
}
