package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLRules(t *testing.T) {
	r := URLRules{Extensions: []string{".md", ".markdown"}, IndexFiles: []string{"index.md", "README.md"}}

	assert.True(t, r.IsMarkdown("a/B.MD"))
	assert.False(t, r.IsMarkdown("a/b.txt"))
	assert.Equal(t, 1, r.IndexRank("readme.md"))
	assert.Equal(t, -1, r.IndexRank("home.md"))

	assert.Equal(t, "/", r.PageURL("README.md", true))
	assert.Equal(t, "/docs/", r.PageURL("docs/index.md", true))
	assert.Equal(t, "/docs/guide/", r.PageURL("docs/guide.markdown", false))
	assert.Equal(t, "/docs/README/", r.PageURL("docs/README.md", false))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "index.html", OutputPath("/"))
	assert.Equal(t, "docs/guide/index.html", OutputPath("/docs/guide/"))
}
