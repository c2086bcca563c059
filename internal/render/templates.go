package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
)

//go:embed templates/*.html
var defaultTemplates embed.FS

// Templates executes a named template against a context map.
type Templates interface {
	Render(w io.Writer, name string, data map[string]any) error
}

// HTMLTemplates is the html/template backed implementation.
type HTMLTemplates struct {
	t *template.Template
}

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	"join":  strings.Join,
}

// DefaultTemplates returns the built-in page, listing, tag and error templates.
func DefaultTemplates() (*HTMLTemplates, error) {
	return LoadTemplates(defaultTemplates, "templates/*.html")
}

// LoadTemplates parses every file matching pattern in fsys. The set must
// define "page", "listing", "tags", "tag" and "error".
func LoadTemplates(fsys fs.FS, pattern string) (*HTMLTemplates, error) {
	t, err := template.New("marksite").Funcs(funcs).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	for _, name := range []string{"page", "listing", "tags", "tag", "error"} {
		if t.Lookup(name) == nil {
			return nil, fmt.Errorf("render: template %q not defined", name)
		}
	}
	return &HTMLTemplates{t: t}, nil
}

func (h *HTMLTemplates) Render(w io.Writer, name string, data map[string]any) error {
	return h.t.ExecuteTemplate(w, name, data)
}
