package site

import (
	"path"
	"strings"
)

// URLRules maps repository-relative paths to canonical url paths.
type URLRules struct {
	Extensions []string
	IndexFiles []string
}

// IsMarkdown reports whether name carries one of the markdown extensions.
func (r URLRules) IsMarkdown(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range r.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Stem strips a markdown extension from rel.
func (r URLRules) Stem(rel string) string {
	if r.IsMarkdown(rel) {
		return strings.TrimSuffix(rel, path.Ext(rel))
	}
	return rel
}

// IndexRank returns the position of name in the index-file list, or -1.
func (r URLRules) IndexRank(name string) int {
	for i, idx := range r.IndexFiles {
		if strings.EqualFold(name, idx) {
			return i
		}
	}
	return -1
}

// PageURL returns the url of a markdown file. claimsDir is true when the
// file is the index file chosen for its directory.
func (r URLRules) PageURL(rel string, claimsDir bool) string {
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	if claimsDir {
		return DirURL(dir)
	}
	return DirURL(path.Join(dir, path.Base(r.Stem(rel))))
}

// DirURL returns the url of a directory relative to the root.
func DirURL(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return "/"
	}
	return "/" + rel + "/"
}

// FileURL returns the url of a non-markdown file.
func FileURL(rel string) string {
	return "/" + strings.TrimPrefix(rel, "/")
}

// OutputPath maps a page url to the file written in a static build.
func OutputPath(urlPath string) string {
	return path.Join(strings.Trim(urlPath, "/"), "index.html")
}
