// Package models defines the domain types shared by the marksite pipeline.
package models

import (
	"net/url"
	"strings"
	"time"
)

// NormalizedTag pairs the canonical key of a tag with the form shown to readers.
type NormalizedTag struct {
	Normalized string `json:"normalized"`
	Display    string `json:"display"`
}

// FileMetadata describes one markdown page of the site.
type FileMetadata struct {
	Path        string                     `json:"path"`
	URLPath     string                     `json:"url_path"`
	Title       string                     `json:"title"`
	Description string                     `json:"description,omitempty"`
	Frontmatter *Frontmatter               `json:"frontmatter,omitempty"`
	Tags        map[string][]NormalizedTag `json:"tags,omitempty"`
	ModTime     time.Time                  `json:"mtime"`
	Size        int64                      `json:"size"`
	Checksum    string                     `json:"checksum"`
}

// HasTag reports whether the file carries the normalized tag in source.
// Ancestors of hierarchical tags are stored explicitly, so a/b matches a.
func (f *FileMetadata) HasTag(source, normalized string) bool {
	for _, t := range f.Tags[source] {
		if t.Normalized == normalized {
			return true
		}
	}
	return false
}

// FolderMetadata describes a directory of the content tree.
type FolderMetadata struct {
	Path      string   `json:"path"`
	URLPath   string   `json:"url_path"`
	Title     string   `json:"title"`
	IndexFile string   `json:"index_file,omitempty"`
	Files     []string `json:"files"`
	Folders   []string `json:"folders"`
}

// TagSource configures one frontmatter field that carries tags.
type TagSource struct {
	Field       string `yaml:"field" json:"field"`
	Label       string `yaml:"label" json:"label,omitempty"`
	LabelPlural string `yaml:"label_plural" json:"label_plural,omitempty"`
}

// Slug is the url segment under which the source's generated pages live.
func (s TagSource) Slug() string {
	return strings.ReplaceAll(s.Field, ".", "-")
}

// TagEntry is the aggregate for one normalized tag within a source.
type TagEntry struct {
	NormalizedTag
	Count int      `json:"count"`
	Files []string `json:"files"`
}

// TagSourceIndex aggregates every tag seen for one source during a scan.
type TagSourceIndex struct {
	ID          string               `json:"id"`
	Field       string               `json:"field"`
	Label       string               `json:"label"`
	LabelPlural string               `json:"label_plural"`
	URLPath     string               `json:"url_path"`
	Tags        map[string]*TagEntry `json:"tags"`
	Order       []string             `json:"-"`
}

// Sorted returns the entries in first-occurrence order.
func (s *TagSourceIndex) Sorted() []*TagEntry {
	out := make([]*TagEntry, 0, len(s.Order))
	for _, n := range s.Order {
		out = append(out, s.Tags[n])
	}
	return out
}

// TagPath returns the unescaped site path of a tag page. It names the
// output file and is what request routing sees after decoding.
func (s *TagSourceIndex) TagPath(normalized string) string {
	return s.URLPath + normalized + "/"
}

// TagURL returns the href of a tag page with every segment of the tag
// path-escaped, so tags such as "c#" or "why?" stay in the path.
func (s *TagSourceIndex) TagURL(normalized string) string {
	segs := strings.Split(normalized, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.URLPath + strings.Join(segs, "/") + "/"
}

// LinkRecord is one anchor found in a rendered page.
type LinkRecord struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Text     string `json:"text"`
	Anchor   string `json:"anchor,omitempty"`
	Internal bool   `json:"internal"`
}
