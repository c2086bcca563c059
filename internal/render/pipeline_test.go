package render

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/oembed"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/testutil"
)

var fixture = map[string]string{
	"index.md": "---\ntitle: Home\ntags: [Rust]\n---\n# Home\n\nSee [the guide](docs/guide.md) and [[setup#Install Steps|setup notes]].\n\n![logo](img/logo.png)\n",
	"docs/guide.md": "---\ntitle: Guide\ntags: lang/go\n---\n# Guide\n\n## Install\n\nLearning #rust today, not `#code`.\n\nhttps://video.example/v/1\n\n## Usage {#use .wide}\n\nBack [home](/).\n",
	"docs/setup.md":  "# Setup\n\nplain\n",
	"docs/broken.md": "# Broken\n\n![gone](missing.png)\n",
	"img/logo.png":   "png",
}

func scan(t *testing.T, files map[string]string) *site.Index {
	t.Helper()
	root := testutil.WriteTree(t, files)
	sc, err := site.NewScanner(site.Options{
		Root:         root,
		Rules:        site.URLRules{Extensions: []string{".md"}, IndexFiles: []string{"index.md", "README.md"}},
		TagSources:   []models.TagSource{{Field: "tags"}},
		InlineSource: "tags",
		Workers:      2,
	}, testutil.Logger())
	require.NoError(t, err)
	idx, err := sc.Scan(context.Background())
	require.NoError(t, err)
	return idx
}

type fakeEmbedder struct {
	enabled bool
	meta    *oembed.Metadata
	err     error
	calls   atomic.Int32
}

func (f *fakeEmbedder) Enabled() bool { return f.enabled }

func (f *fakeEmbedder) GetOrFetch(_ context.Context, rawURL string) (*oembed.Metadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	md := *f.meta
	md.URL = rawURL
	return &md, nil
}

func newPipeline(t *testing.T, embeds Embedder) *Pipeline {
	t.Helper()
	tmpl, err := DefaultTemplates()
	require.NoError(t, err)
	return New(Options{SiteTitle: "Notes", InlineSource: "tags", LinkTracking: true}, embeds, tmpl, testutil.Logger())
}

func TestRenderRewritesLinks(t *testing.T) {
	idx := scan(t, fixture)
	p := newPipeline(t, nil)
	home, ok := idx.File("/")
	require.True(t, ok)

	page, err := p.Render(context.Background(), idx, home)
	require.NoError(t, err)

	html := string(page.Content)
	assert.Contains(t, html, `href="/docs/guide/"`)
	assert.Contains(t, html, `href="/docs/setup/#install-steps"`)
	assert.Contains(t, html, `>setup notes</a>`)
	assert.Contains(t, html, `src="/img/logo.png"`)

	var targets []string
	for _, l := range page.Links {
		targets = append(targets, l.To)
	}
	assert.Contains(t, targets, "/docs/guide/")
	assert.Contains(t, targets, "/docs/setup/")
}

func TestRenderInlineTagsAndTOC(t *testing.T) {
	idx := scan(t, fixture)
	p := newPipeline(t, nil)
	guide, ok := idx.File("/docs/guide/")
	require.True(t, ok)

	page, err := p.Render(context.Background(), idx, guide)
	require.NoError(t, err)

	html := string(page.Content)
	assert.Contains(t, html, `<a href="/tags/rust/">#rust</a>`)
	assert.Contains(t, html, `<code>#code</code>`)
	assert.Contains(t, html, `id="install"`)

	require.Len(t, page.TOC, 3)
	assert.Equal(t, Heading{Level: 2, ID: "install", Text: "Install"}, page.TOC[1])
	assert.Equal(t, "use", page.TOC[2].ID)
}

func TestRenderMissingAsset(t *testing.T) {
	idx := scan(t, fixture)
	p := newPipeline(t, nil)
	broken, ok := idx.File("/docs/broken/")
	require.True(t, ok)

	_, err := p.Render(context.Background(), idx, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAsset)
}

func TestRenderEmbeds(t *testing.T) {
	idx := scan(t, fixture)
	guide, _ := idx.File("/docs/guide/")

	t.Run("metadata replaces bare link", func(t *testing.T) {
		e := &fakeEmbedder{enabled: true, meta: &oembed.Metadata{Type: "link", Title: "A video", ProviderName: "Example"}}
		page, err := newPipeline(t, e).Render(context.Background(), idx, guide)
		require.NoError(t, err)
		assert.Contains(t, string(page.Content), `<figure class="embed embed-link">`)
		assert.Contains(t, string(page.Content), "A video")
		assert.Equal(t, int32(1), e.calls.Load())
	})

	t.Run("failure keeps plain link", func(t *testing.T) {
		e := &fakeEmbedder{enabled: true, err: errors.New("boom")}
		page, err := newPipeline(t, e).Render(context.Background(), idx, guide)
		require.NoError(t, err)
		assert.NotContains(t, string(page.Content), "<figure")
		assert.Contains(t, string(page.Content), `href="https://video.example/v/1"`)
	})

	t.Run("disabled cache is not consulted", func(t *testing.T) {
		e := &fakeEmbedder{enabled: false}
		_, err := newPipeline(t, e).Render(context.Background(), idx, guide)
		require.NoError(t, err)
		assert.Zero(t, e.calls.Load())
	})

	t.Run("links pass skips embeds", func(t *testing.T) {
		e := &fakeEmbedder{enabled: true, meta: &oembed.Metadata{Title: "x"}}
		links, err := newPipeline(t, e).Links(context.Background(), idx, guide)
		require.NoError(t, err)
		assert.Zero(t, e.calls.Load())
		assert.NotEmpty(t, links)
	})
}

func TestWriteTemplates(t *testing.T) {
	idx := scan(t, fixture)
	p := newPipeline(t, nil)
	guide, _ := idx.File("/docs/guide/")
	page, err := p.Render(context.Background(), idx, guide)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.WritePage(&buf, idx, page))
	out := buf.String()
	assert.Contains(t, out, "<title>Guide · Notes</title>")
	assert.Contains(t, out, `data-links="/docs/guide/links.json"`)
	assert.Contains(t, out, `<a href="/tags/lang/go/" title="Tag">lang/go</a>`)

	buf.Reset()
	require.NoError(t, p.WriteListing(&buf, idx, idx.Folders["/img/"]))
	assert.Contains(t, buf.String(), "No pages.")

	src := idx.TagSources["tags"]
	buf.Reset()
	require.NoError(t, p.WriteTagIndex(&buf, idx, src))
	assert.Contains(t, buf.String(), `<a href="/tags/rust/">rust</a> (2)`)

	buf.Reset()
	require.NoError(t, p.WriteTagPage(&buf, idx, src, "lang"))
	assert.Contains(t, buf.String(), `<a href="/docs/guide/">Guide</a>`)
	assert.Error(t, p.WriteTagPage(&buf, idx, src, "nope"))

	buf.Reset()
	require.NoError(t, p.WriteError(&buf, 404, "no such page"))
	assert.Contains(t, buf.String(), "404 Not Found")
}

func TestBreadcrumbs(t *testing.T) {
	idx := scan(t, fixture)
	assert.Nil(t, Breadcrumbs(idx, "/"))
	crumbs := Breadcrumbs(idx, "/docs/guide/")
	require.Len(t, crumbs, 2)
	assert.Equal(t, Crumb{URL: "/", Title: "Home"}, crumbs[0])
	assert.Equal(t, "/docs/", crumbs[1].URL)
	assert.Equal(t, "Docs", crumbs[1].Title)
}

func TestEmbedHTMLKeepsOnlyIframes(t *testing.T) {
	cases := []struct {
		name     string
		meta     oembed.Metadata
		want     []string
		excluded []string
	}{
		{
			name: "iframe attributes filtered",
			meta: oembed.Metadata{Type: "video", URL: "https://video.example/v/1",
				HTML: `<iframe src="https://player.example/1" width="560" onload="steal()" allowfullscreen></iframe>`},
			want:     []string{`<iframe src="https://player.example/1" width="560" allowfullscreen=""></iframe>`},
			excluded: []string{"onload", "embed-card"},
		},
		{
			name: "script dropped around iframe",
			meta: oembed.Metadata{Type: "rich",
				HTML: `<blockquote>quote</blockquote><script src="https://evil.example/x.js"></script><iframe src="https://rich.example/e"></iframe>`},
			want:     []string{`<iframe src="https://rich.example/e"></iframe>`},
			excluded: []string{"<script", "<blockquote"},
		},
		{
			name:     "no iframe falls back to card",
			meta:     oembed.Metadata{Type: "rich", URL: "https://rich.example/p", Title: "Post", HTML: `<div onclick="x()">hi</div>`},
			want:     []string{`<a class="embed-card" href="https://rich.example/p">`, "Post"},
			excluded: []string{"onclick"},
		},
		{
			name:     "script scheme source refused",
			meta:     oembed.Metadata{Type: "video", URL: "https://video.example/v/2", HTML: `<iframe src="javascript:alert(1)"></iframe>`},
			want:     []string{"embed-card"},
			excluded: []string{"<iframe", "javascript:"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := embedHTML(&tc.meta)
			for _, w := range tc.want {
				assert.Contains(t, got, w)
			}
			for _, x := range tc.excluded {
				assert.NotContains(t, got, x)
			}
		})
	}
}

func TestInlineTagHrefIsEscaped(t *testing.T) {
	idx := scan(t, fixture)
	rw := rewriter(idx, "tags")
	require.NotNil(t, rw.InlineTag)
	assert.Equal(t, "/tags/c%23/", rw.InlineTag("C#"))
	assert.Equal(t, "/tags/why%3F/", rw.InlineTag("why?"))
	assert.Equal(t, "/tags/rust/", rw.InlineTag("Rust"))
}
