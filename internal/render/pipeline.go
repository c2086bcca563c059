package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"time"

	"github.com/yuin/goldmark"
	gmparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/metrics"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/oembed"
	"github.com/starford/marksite/internal/parser"
	"github.com/starford/marksite/internal/site"
)

// maxEmbedFetches bounds concurrent oembed lookups within one page.
const maxEmbedFetches = 4

// Embedder resolves bare links into embed metadata.
type Embedder interface {
	Enabled() bool
	GetOrFetch(ctx context.Context, rawURL string) (*oembed.Metadata, error)
}

// Options configures a Pipeline.
type Options struct {
	SiteTitle    string
	InlineSource string
	LinkTracking bool
	LiveReload   bool
	Extensions   []string
}

// Page is one rendered markdown file.
type Page struct {
	File    *models.FileMetadata
	Content template.HTML
	TOC     []Heading
	Links   []models.LinkRecord
}

// Pipeline renders pages. It holds no per-page state and is safe for
// concurrent use.
type Pipeline struct {
	md       goldmark.Markdown
	embeds   Embedder
	tmpl     Templates
	opts     Options
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New returns a pipeline. embeds may be nil.
func New(opts Options, embeds Embedder, tmpl Templates, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		md:       newEngine(opts.Extensions),
		embeds:   embeds,
		tmpl:     tmpl,
		opts:     opts,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
}

// WithRecorder sets the metrics recorder.
func (p *Pipeline) WithRecorder(r metrics.Recorder) *Pipeline {
	p.recorder = r
	return p
}

// Render reads f from disk and converts it to HTML.
func (p *Pipeline) Render(ctx context.Context, idx *site.Index, f *models.FileMetadata) (*Page, error) {
	raw, err := os.ReadFile(idx.Abs(f.Path))
	if err != nil {
		return nil, fmt.Errorf("render: read %s: %w", f.Path, err)
	}
	return p.Convert(ctx, idx, f, raw, true)
}

// Links renders f without embeds and returns its outbound links.
func (p *Pipeline) Links(ctx context.Context, idx *site.Index, f *models.FileMetadata) ([]models.LinkRecord, error) {
	raw, err := os.ReadFile(idx.Abs(f.Path))
	if err != nil {
		return nil, fmt.Errorf("render: read %s: %w", f.Path, err)
	}
	page, err := p.Convert(ctx, idx, f, raw, false)
	if err != nil {
		return nil, err
	}
	return page.Links, nil
}

// Convert turns raw markdown into a Page. With embed set, paragraphs holding
// a single bare URL are replaced by embeds when metadata is available; any
// lookup failure leaves the plain link.
func (p *Pipeline) Convert(ctx context.Context, idx *site.Index, f *models.FileMetadata, raw []byte, embed bool) (*Page, error) {
	start := time.Now()
	body := parser.Extract(raw, nil).Body
	body = parser.Rewrite(body, rewriter(idx, p.opts.InlineSource))

	doc := p.md.Parser().Parse(text.NewReader(body), gmparser.WithContext(gmparser.NewContext()))
	tr := transform(doc, body, idx, f)
	if len(tr.errs) > 0 {
		return nil, fmt.Errorf("render %s: %w", f.Path, errors.Join(tr.errs...))
	}
	if embed {
		p.applyEmbeds(ctx, tr.embeds)
	}

	var buf bytes.Buffer
	if err := p.md.Renderer().Render(&buf, body, doc); err != nil {
		return nil, fmt.Errorf("render %s: %w", f.Path, err)
	}
	links, err := linkgraph.ExtractLinks(bytes.NewReader(buf.Bytes()), f.URLPath)
	if err != nil {
		return nil, fmt.Errorf("render %s: extract links: %w", f.Path, err)
	}

	p.recorder.ObserveRender(time.Since(start))
	return &Page{
		File:    f,
		Content: template.HTML(buf.String()), //nolint:gosec // goldmark output, raw HTML allowed by configuration
		TOC:     tr.toc,
		Links:   links,
	}, nil
}

func (p *Pipeline) applyEmbeds(ctx context.Context, candidates []embedCandidate) {
	if p.embeds == nil || !p.embeds.Enabled() || len(candidates) == 0 {
		return
	}
	metas := make([]*oembed.Metadata, len(candidates))
	var g errgroup.Group
	g.SetLimit(maxEmbedFetches)
	for i, c := range candidates {
		g.Go(func() error {
			md, err := p.embeds.GetOrFetch(ctx, c.url)
			if err != nil {
				p.logger.Debug("render: embed unavailable, keeping link", logfields.URL(c.url), logfields.Error(err))
				return nil
			}
			metas[i] = md
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range candidates {
		if metas[i] == nil {
			continue
		}
		parent := c.para.Parent()
		if parent == nil {
			continue
		}
		parent.ReplaceChild(parent, c.para, &Embed{Meta: metas[i]})
	}
}
