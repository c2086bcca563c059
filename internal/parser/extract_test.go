package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marksite/internal/models"
)

var defaultSources = []models.TagSource{{Field: "tags"}}

func TestExtract_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ndescription: A page\ntags:\n  - Go\n  - Lang/Rust\n---\n# Heading\nBody text.\n")
	r := Extract(input, defaultSources)

	assert.Equal(t, "Hello", r.Title)
	assert.Equal(t, "A page", r.Description)
	assert.Equal(t, []string{"title", "description", "tags"}, r.Frontmatter.Keys())
	assert.Contains(t, string(r.Body), "Body text.")
	assert.NotContains(t, string(r.Body), "title: Hello")

	require.Len(t, r.Tags["tags"], 3)
	assert.Equal(t, models.NormalizedTag{Normalized: "go", Display: "Go"}, r.Tags["tags"][0])
	assert.Equal(t, models.NormalizedTag{Normalized: "lang", Display: "Lang"}, r.Tags["tags"][1])
	assert.Equal(t, models.NormalizedTag{Normalized: "lang/rust", Display: "Lang/Rust"}, r.Tags["tags"][2])
}

func TestExtract_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r := Extract(input, defaultSources)

	assert.Equal(t, 0, r.Frontmatter.Len())
	assert.Equal(t, "Just a heading", r.Title)
	assert.Contains(t, string(r.Body), "Some text.")
	assert.Empty(t, r.Tags)
}

func TestExtract_MalformedYAMLYieldsEmptyFrontmatter(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Extract(input, defaultSources)

	assert.Equal(t, 0, r.Frontmatter.Len())
	assert.Equal(t, input, r.Body)
}

func TestExtract_CommaSeparatedScalar(t *testing.T) {
	input := []byte("---\ntags: rust, Web Dev ,\n---\nbody\n")
	r := Extract(input, defaultSources)

	require.Len(t, r.Tags["tags"], 2)
	assert.Equal(t, "rust", r.Tags["tags"][0].Normalized)
	assert.Equal(t, "web_dev", r.Tags["tags"][1].Normalized)
	assert.Equal(t, "Web Dev", r.Tags["tags"][1].Display)
}

func TestExtract_DotPathSourceAndInlineTags(t *testing.T) {
	sources := []models.TagSource{{Field: "tags"}, {Field: "meta.topics"}}
	input := []byte("---\nmeta:\n  topics: [search]\n---\nText #alpha and `#code` here.\n\n```\n#fenced\n```\n")
	r := Extract(input, sources, WithInlineSource("tags"))

	require.Len(t, r.Tags["tags"], 1)
	assert.Equal(t, "alpha", r.Tags["tags"][0].Normalized)
	require.Len(t, r.Tags["meta.topics"], 1)
	assert.Equal(t, "search", r.Tags["meta.topics"][0].Normalized)
}

func TestExtract_TitleSkipsFencedH1(t *testing.T) {
	input := []byte("```\n# not a title\n```\n# Real Title\n")
	r := Extract(input, nil)
	assert.Equal(t, "Real Title", r.Title)
}

func TestExtract_SummaryFallsBackForDescription(t *testing.T) {
	r := Extract([]byte("---\nsummary: Short\n---\n"), nil)
	assert.Equal(t, "Short", r.Description)
}
