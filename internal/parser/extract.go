// Package parser extracts frontmatter, tags and titles from markdown sources
// and rewrites wikilinks and inline tags into regular markdown links.
package parser

import (
	"bytes"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/starford/marksite/internal/models"
)

// yamlFormat only recognises "---" fenced YAML; TOML and JSON blocks are body text.
var yamlFormat = &frontmatter.Format{
	Start:     "---",
	End:       "---",
	Unmarshal: yaml.Unmarshal,
}

// Result holds the output of extracting a markdown file.
type Result struct {
	Frontmatter *models.Frontmatter
	Body        []byte
	Tags        map[string][]models.NormalizedTag
	Title       string
	Description string
}

type options struct {
	inlineSource string
}

// Option tunes Extract.
type Option func(*options)

// WithInlineSource merges inline #tags from the body into the given source.
func WithInlineSource(id string) Option {
	return func(o *options) { o.inlineSource = id }
}

// Extract splits raw into frontmatter and body and collects tags for every
// configured source. A malformed metadata block yields empty frontmatter and
// leaves raw untouched as the body; Extract never fails.
func Extract(raw []byte, sources []models.TagSource, opts ...Option) *Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fm, body := splitFrontmatter(raw)
	res := &Result{
		Frontmatter: fm,
		Body:        body,
		Tags:        make(map[string][]models.NormalizedTag, len(sources)),
		Title:       deriveTitle(fm, body),
		Description: deriveDescription(fm),
	}

	for _, src := range sources {
		v, ok := fm.Get(src.Field)
		var values []string
		if ok {
			values = tagValues(v)
		}
		if src.Field == o.inlineSource {
			values = append(values, ExtractInlineTags(body)...)
		}
		if tags := expandTags(values); len(tags) > 0 {
			res.Tags[src.Field] = tags
		}
	}
	return res
}

func splitFrontmatter(raw []byte) (*models.Frontmatter, []byte) {
	var node yaml.Node
	body, err := frontmatter.Parse(bytes.NewReader(raw), &node, yamlFormat)
	if err != nil {
		return models.NewFrontmatter(), raw
	}
	fm, ok := decodeNode(&node).(*models.Frontmatter)
	if !ok {
		return models.NewFrontmatter(), body
	}
	return fm, body
}

// decodeNode converts a YAML tree into ordered frontmatter values.
func decodeNode(n *yaml.Node) any {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return decodeNode(n.Content[0])
	case yaml.MappingNode:
		fm := models.NewFrontmatter()
		for i := 0; i+1 < len(n.Content); i += 2 {
			fm.Set(n.Content[i].Value, decodeNode(n.Content[i+1]))
		}
		return fm
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			out = append(out, decodeNode(c))
		}
		return out
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil
		}
		return decodeNode(n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return n.Value
		}
		return v
	}
	return nil
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading outside code blocks, otherwise empty string.
func deriveTitle(fm *models.Frontmatter, body []byte) string {
	if t := fm.String("title"); t != "" {
		return t
	}
	title := ""
	eachProseLine(body, func(line string) bool {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			title = strings.TrimSpace(strings.TrimRight(trimmed[2:], "#"))
			return false
		}
		return true
	})
	return title
}

func deriveDescription(fm *models.Frontmatter) string {
	if d := fm.String("description"); d != "" {
		return d
	}
	return fm.String("summary")
}
