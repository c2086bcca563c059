package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/testutil"
)

func buildIndex(t *testing.T, files map[string]string) *site.Index {
	t.Helper()
	sc, err := site.NewScanner(site.Options{
		Root:         testutil.WriteTree(t, files),
		Rules:        site.URLRules{Extensions: []string{".md"}, IndexFiles: []string{"index.md", "README.md"}},
		StaticFolder: "static",
		TagSources:   []models.TagSource{{Field: "tags"}},
	}, testutil.Logger())
	require.NoError(t, err)
	idx, err := sc.Scan(context.Background())
	require.NoError(t, err)
	return idx
}

var tree = map[string]string{
	"README.md":         "# Home",
	"docs/guide.md":     "---\ntags: [rust, lang/go]\n---\n# Guide",
	"docs/img.png":      "png",
	"docs/api/index.md": "# API",
	"empty/sub/a.md":    "# A",
	"static/robots.txt": "ok",
	"my guide.md":       "# Spaces",
}

func TestResolve_Order(t *testing.T) {
	idx := buildIndex(t, tree)

	tests := []struct {
		path string
		want Resolved
	}{
		{"/", Resolved{MarkdownFile, "README.md"}},
		{"/docs/guide/", Resolved{MarkdownFile, "docs/guide.md"}},
		{"/docs/api/", Resolved{MarkdownFile, "docs/api/index.md"}},
		{"/docs/guide.md", Resolved{MarkdownFile, "docs/guide.md"}},
		{"/docs/api/index", Resolved{MarkdownFile, "docs/api/index.md"}},
		{"/robots.txt", Resolved{StaticFile, "static/robots.txt"}},
		{"/docs/img.png", Resolved{StaticFile, "docs/img.png"}},
		{"/docs/", Resolved{DirectoryListing, "docs"}},
		{"/empty", Resolved{DirectoryListing, "empty"}},
		{"/nope/", Resolved{NotFound, ""}},
		{"/static/robots.txt", Resolved{NotFound, ""}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.path, idx))
		})
	}
}

func TestResolve_CanonicalFormsAgree(t *testing.T) {
	idx := buildIndex(t, tree)

	groups := [][]string{
		{"/docs/guide/", "/docs/guide", "//docs//guide/", "/docs/./guide", "/docs/%67uide/", "/docs/x/../guide"},
		{"/my guide/", "/my%20guide", "/my%20guide/"},
		{"/", "", "//", "/.", "/../"},
	}
	for _, g := range groups {
		want := Resolve(g[0], idx)
		require.NotEqual(t, NotFound, want.Kind, "group %v", g)
		for _, p := range g[1:] {
			assert.Equal(t, want, Resolve(p, idx), "path %q", p)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	idx := buildIndex(t, tree)
	for _, p := range []string{"/", "/docs/", "/docs/guide", "/nope", "/robots.txt"} {
		assert.Equal(t, Resolve(p, idx), Resolve(p, idx))
	}
}

func TestResolveGenerated(t *testing.T) {
	idx := buildIndex(t, tree)

	g, ok := ResolveGenerated("/tags/", idx)
	require.True(t, ok)
	assert.Equal(t, Generated{Kind: TagIndex, Source: "tags"}, g)

	g, ok = ResolveGenerated("/tags/lang/go", idx)
	require.True(t, ok)
	assert.Equal(t, Generated{Kind: TagPage, Source: "tags", Tag: "lang/go"}, g)

	_, ok = ResolveGenerated("/tags/unknown/", idx)
	assert.False(t, ok)
}

func TestResolve_RealFileBeatsGeneratedRoute(t *testing.T) {
	files := map[string]string{"tags/index.md": "# My tags", "a.md": "---\ntags: [x]\n---\n"}
	idx := buildIndex(t, files)

	assert.Equal(t, Resolved{MarkdownFile, "tags/index.md"}, Resolve("/tags/", idx))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "markdown", MarkdownFile.String())
	assert.Equal(t, "not_found", NotFound.String())
}
