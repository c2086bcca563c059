// Package site scans a content repository into an immutable Index and
// publishes successive generations through a Store.
package site

import (
	"encoding/json"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/marksite/internal/models"
)

// Index is an immutable snapshot of the content tree. It is never mutated
// after Store publishes it.
type Index struct {
	Generation uint64
	Root       string
	ScannedAt  time.Time
	Rules      URLRules

	Files      map[string]*models.FileMetadata
	Folders    map[string]*models.FolderMetadata
	TagSources map[string]*models.TagSourceIndex
	Assets     map[string]string
	Static     map[string]string

	// SourceOrder lists tag source ids in configuration order.
	SourceOrder []string

	byPath map[string]*models.FileMetadata
	byStem map[string]*models.FileMetadata
	byName map[string][]*models.FileMetadata
	order  []string
}

func newIndex(root string, rules URLRules) *Index {
	return &Index{
		Root:       root,
		Rules:      rules,
		Files:      make(map[string]*models.FileMetadata),
		Folders:    make(map[string]*models.FolderMetadata),
		TagSources: make(map[string]*models.TagSourceIndex),
		Assets:     make(map[string]string),
		Static:     make(map[string]string),
		byPath:     make(map[string]*models.FileMetadata),
		byStem:     make(map[string]*models.FileMetadata),
		byName:     make(map[string][]*models.FileMetadata),
	}
}

// Empty returns an index with no content, used before the first scan.
func Empty(root string, rules URLRules) *Index {
	return newIndex(root, rules)
}

func (idx *Index) addFile(f *models.FileMetadata) {
	idx.Files[f.URLPath] = f
	idx.byPath[f.Path] = f
	stem := idx.Rules.Stem(f.Path)
	idx.byStem[stem] = f
	name := strings.ToLower(path.Base(stem))
	idx.byName[name] = append(idx.byName[name], f)
	idx.order = append(idx.order, f.URLPath)
}

func (idx *Index) seal() {
	sort.Strings(idx.order)
	for _, fs := range idx.byName {
		sort.Slice(fs, func(i, j int) bool { return fs[i].Path < fs[j].Path })
	}
}

// File returns the page at urlPath.
func (idx *Index) File(urlPath string) (*models.FileMetadata, bool) {
	f, ok := idx.Files[urlPath]
	return f, ok
}

// FileByPath returns the page whose source is rel.
func (idx *Index) FileByPath(rel string) (*models.FileMetadata, bool) {
	f, ok := idx.byPath[rel]
	return f, ok
}

// FileByStem returns the page whose source, without extension, is stem.
func (idx *Index) FileByStem(stem string) (*models.FileMetadata, bool) {
	f, ok := idx.byStem[stem]
	return f, ok
}

// ResolveWikilink finds the page a [[target]] refers to. Targets containing a
// slash are matched against the repository path, bare names against file
// stems case-insensitively with the lexicographically first path winning.
func (idx *Index) ResolveWikilink(target string) (*models.FileMetadata, bool) {
	t := strings.Trim(strings.TrimSpace(target), "/")
	if t == "" {
		return nil, false
	}
	t = idx.Rules.Stem(t)
	if f, ok := idx.byStem[t]; ok {
		return f, true
	}
	if f, ok := idx.byPath[t]; ok {
		return f, true
	}
	if strings.Contains(t, "/") {
		return nil, false
	}
	if fs := idx.byName[strings.ToLower(t)]; len(fs) > 0 {
		return fs[0], true
	}
	return nil, false
}

// SortedFiles returns every page ordered by url path.
func (idx *Index) SortedFiles() []*models.FileMetadata {
	out := make([]*models.FileMetadata, 0, len(idx.order))
	for _, u := range idx.order {
		out = append(out, idx.Files[u])
	}
	return out
}

// SortedFolders returns every folder ordered by url path.
func (idx *Index) SortedFolders() []*models.FolderMetadata {
	out := make([]*models.FolderMetadata, 0, len(idx.Folders))
	for _, f := range idx.Folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URLPath < out[j].URLPath })
	return out
}

// Sources returns the tag source indexes in configuration order.
func (idx *Index) Sources() []*models.TagSourceIndex {
	out := make([]*models.TagSourceIndex, 0, len(idx.SourceOrder))
	for _, id := range idx.SourceOrder {
		if s, ok := idx.TagSources[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// FilesWithTag filters the index by tag membership.
func (idx *Index) FilesWithTag(source, normalized string) []*models.FileMetadata {
	var out []*models.FileMetadata
	for _, f := range idx.SortedFiles() {
		if f.HasTag(source, normalized) {
			out = append(out, f)
		}
	}
	return out
}

// Abs returns the absolute filesystem path of a repository-relative path.
func (idx *Index) Abs(rel string) string {
	return filepath.Join(idx.Root, filepath.FromSlash(rel))
}

// Known reports whether urlPath is served by a page, folder, asset or
// static file of this snapshot.
func (idx *Index) Known(urlPath string) bool {
	if _, ok := idx.Files[urlPath]; ok {
		return true
	}
	if _, ok := idx.Folders[urlPath]; ok {
		return true
	}
	if _, ok := idx.Assets[urlPath]; ok {
		return true
	}
	_, ok := idx.Static[urlPath]
	return ok
}

// MarshalJSON renders the site metadata payload.
func (idx *Index) MarshalJSON() ([]byte, error) {
	payload := struct {
		Generation uint64                            `json:"generation"`
		Files      []*models.FileMetadata            `json:"files"`
		Folders    []*models.FolderMetadata          `json:"folders"`
		TagSources map[string]*models.TagSourceIndex `json:"tag_sources"`
	}{
		Generation: idx.Generation,
		Files:      idx.SortedFiles(),
		Folders:    idx.SortedFolders(),
		TagSources: idx.TagSources,
	}
	return json.Marshal(payload)
}
