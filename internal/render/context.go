package render

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/site"
)

// Crumb is one breadcrumb link.
type Crumb struct {
	URL   string
	Title string
}

// TagChip is a tag shown on a page, linked to its generated page.
type TagChip struct {
	URL     string
	Label   string
	Display string
}

// ListItem is a page or folder entry of a listing.
type ListItem struct {
	URL         string
	Title       string
	Description string
}

type navSource struct {
	URL   string
	Label string
}

// Breadcrumbs returns the ancestor folders of urlPath, root first. The
// target itself is not included.
func Breadcrumbs(idx *site.Index, urlPath string) []Crumb {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return nil
	}
	crumbs := []Crumb{{URL: "/", Title: folderTitle(idx, "/", "Home")}}
	segs := strings.Split(trimmed, "/")
	for i := 0; i < len(segs)-1; i++ {
		u := "/" + strings.Join(segs[:i+1], "/") + "/"
		crumbs = append(crumbs, Crumb{URL: u, Title: folderTitle(idx, u, segs[i])})
	}
	return crumbs
}

func folderTitle(idx *site.Index, urlPath, fallback string) string {
	if f, ok := idx.Folders[urlPath]; ok && f.Title != "" {
		return f.Title
	}
	return fallback
}

// TagChips lists the tags of f in source order, using each tag's canonical
// display form.
func TagChips(idx *site.Index, f *models.FileMetadata) []TagChip {
	var chips []TagChip
	for _, src := range idx.Sources() {
		for _, t := range f.Tags[src.ID] {
			display := t.Display
			if e, ok := src.Tags[t.Normalized]; ok {
				display = e.Display
			}
			chips = append(chips, TagChip{URL: src.TagURL(t.Normalized), Label: src.Label, Display: display})
		}
	}
	return chips
}

func (p *Pipeline) base(idx *site.Index, title string) map[string]any {
	sources := make([]navSource, 0, len(idx.SourceOrder))
	for _, s := range idx.Sources() {
		sources = append(sources, navSource{URL: s.URLPath, Label: s.LabelPlural})
	}
	return map[string]any{
		"site": map[string]any{
			"title":   p.opts.SiteTitle,
			"sources": sources,
		},
		"title":       title,
		"live_reload": p.opts.LiveReload,
	}
}

// PageContext is the template context of a rendered page.
func (p *Pipeline) PageContext(idx *site.Index, page *Page) map[string]any {
	f := page.File
	data := p.base(idx, f.Title)
	data["description"] = f.Description
	data["breadcrumbs"] = Breadcrumbs(idx, f.URLPath)
	data["tags"] = TagChips(idx, f)
	data["toc"] = page.TOC
	data["content"] = page.Content
	data["url_path"] = f.URLPath
	data["frontmatter"] = f.Frontmatter
	if p.opts.LinkTracking {
		data["links_url"] = f.URLPath + "links.json"
	}
	return data
}

// ListingContext is the template context of a folder without an index file.
func (p *Pipeline) ListingContext(idx *site.Index, folder *models.FolderMetadata) map[string]any {
	data := p.base(idx, folder.Title)
	data["breadcrumbs"] = Breadcrumbs(idx, folder.URLPath)
	data["url_path"] = folder.URLPath

	folders := make([]ListItem, 0, len(folder.Folders))
	for _, u := range folder.Folders {
		folders = append(folders, ListItem{URL: u, Title: folderTitle(idx, u, path.Base(strings.TrimSuffix(u, "/")))})
	}
	pages := make([]ListItem, 0, len(folder.Files))
	for _, u := range folder.Files {
		if f, ok := idx.File(u); ok {
			pages = append(pages, ListItem{URL: u, Title: f.Title, Description: f.Description})
		}
	}
	data["folders"] = folders
	data["pages"] = pages
	return data
}

type tagItem struct {
	URL     string
	Display string
	Count   int
}

// TagIndexContext lists every tag of a source in first-occurrence order.
func (p *Pipeline) TagIndexContext(idx *site.Index, src *models.TagSourceIndex) map[string]any {
	data := p.base(idx, src.LabelPlural)
	data["url_path"] = src.URLPath
	items := make([]tagItem, 0, len(src.Order))
	for _, e := range src.Sorted() {
		items = append(items, tagItem{URL: src.TagURL(e.Normalized), Display: e.Display, Count: e.Count})
	}
	data["tags"] = items
	return data
}

// TagPageContext lists the pages carrying one tag. It reports false when the
// source has no such tag.
func (p *Pipeline) TagPageContext(idx *site.Index, src *models.TagSourceIndex, normalized string) (map[string]any, bool) {
	e, ok := src.Tags[normalized]
	if !ok {
		return nil, false
	}
	data := p.base(idx, e.Display)
	data["label"] = src.Label
	data["url_path"] = src.TagPath(normalized)
	data["breadcrumbs"] = []Crumb{{URL: "/", Title: folderTitle(idx, "/", "Home")}, {URL: src.URLPath, Title: src.LabelPlural}}
	files := idx.FilesWithTag(src.ID, normalized)
	pages := make([]ListItem, 0, len(files))
	for _, f := range files {
		pages = append(pages, ListItem{URL: f.URLPath, Title: f.Title, Description: f.Description})
	}
	data["pages"] = pages
	return data, true
}

// WritePage executes the page template.
func (p *Pipeline) WritePage(w io.Writer, idx *site.Index, page *Page) error {
	return p.execute(w, "page", p.PageContext(idx, page))
}

// WriteListing executes the listing template.
func (p *Pipeline) WriteListing(w io.Writer, idx *site.Index, folder *models.FolderMetadata) error {
	return p.execute(w, "listing", p.ListingContext(idx, folder))
}

// WriteTagIndex executes the tag index template.
func (p *Pipeline) WriteTagIndex(w io.Writer, idx *site.Index, src *models.TagSourceIndex) error {
	return p.execute(w, "tags", p.TagIndexContext(idx, src))
}

// WriteTagPage executes the tag page template.
func (p *Pipeline) WriteTagPage(w io.Writer, idx *site.Index, src *models.TagSourceIndex, normalized string) error {
	data, ok := p.TagPageContext(idx, src, normalized)
	if !ok {
		return fmt.Errorf("render: tag %q not in source %q", normalized, src.ID)
	}
	return p.execute(w, "tag", data)
}

// WriteError executes the error template.
func (p *Pipeline) WriteError(w io.Writer, status int, message string) error {
	data := map[string]any{
		"site":        map[string]any{"title": p.opts.SiteTitle},
		"title":       http.StatusText(status),
		"status":      status,
		"message":     message,
		"live_reload": p.opts.LiveReload,
	}
	return p.execute(w, "error", data)
}

func (p *Pipeline) execute(w io.Writer, name string, data map[string]any) error {
	if err := p.tmpl.Render(w, name, data); err != nil {
		return fmt.Errorf("render: template %s: %w", name, err)
	}
	return nil
}
