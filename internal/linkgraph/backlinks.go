package linkgraph

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/site"
)

// OutboundFunc renders a page far enough to list its outbound links.
type OutboundFunc func(ctx context.Context, idx *site.Index, f *models.FileMetadata) ([]models.LinkRecord, error)

// Backlinks answers link queries in server mode. The first query against an
// index generation collects the outbound links of every page and freezes
// them into a Graph, so inbound answers are derived from the same records
// the page's outbound list shows. The graph is dropped when a newer
// generation is seen.
type Backlinks struct {
	outbound OutboundFunc
	workers  int
	logger   *slog.Logger

	mu    sync.Mutex
	gen   uint64
	graph *Graph
	group singleflight.Group
}

func NewBacklinks(outbound OutboundFunc, workers int, logger *slog.Logger) *Backlinks {
	if workers <= 0 {
		workers = site.DefaultWorkers()
	}
	return &Backlinks{outbound: outbound, workers: workers, logger: logger}
}

// Inbound returns the links pointing at target, ordered by source page.
func (b *Backlinks) Inbound(ctx context.Context, idx *site.Index, target string) ([]models.LinkRecord, error) {
	g, err := b.Graph(ctx, idx)
	if err != nil {
		return nil, err
	}
	return append([]models.LinkRecord{}, g.Inbound(target)...), nil
}

// Document returns the links.json payload of page for idx.
func (b *Backlinks) Document(ctx context.Context, idx *site.Index, page string) (Document, error) {
	g, err := b.Graph(ctx, idx)
	if err != nil {
		return Document{}, err
	}
	return g.Document(page), nil
}

// Graph returns the link graph of idx, building it on first use. Concurrent
// callers for one generation share a single build; a caller going away does
// not cancel it for the others.
func (b *Backlinks) Graph(ctx context.Context, idx *site.Index) (*Graph, error) {
	if g, ok := b.cached(idx.Generation); ok {
		return g, nil
	}
	v, err, _ := b.group.Do(strconv.FormatUint(idx.Generation, 10), func() (any, error) {
		g, err := b.collect(context.WithoutCancel(ctx), idx)
		if err != nil {
			return nil, err
		}
		b.keep(idx.Generation, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

func (b *Backlinks) cached(gen uint64) (*Graph, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph == nil || gen != b.gen {
		return nil, false
	}
	return b.graph, true
}

func (b *Backlinks) keep(gen uint64, g *Graph) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph == nil || gen >= b.gen {
		b.gen, b.graph = gen, g
	}
}

// collect renders every page's outbound links on a bounded pool. A page that
// fails to render contributes no links.
func (b *Backlinks) collect(ctx context.Context, idx *site.Index) (*Graph, error) {
	files := idx.SortedFiles()
	found := make([][]models.LinkRecord, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, f := range files {
		g.Go(func() error {
			recs, err := b.outbound(gctx, idx, f)
			if err != nil {
				b.logger.Warn("backlinks: render failed", logfields.Path(f.Path), logfields.Error(err))
				return nil
			}
			found[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := NewCollector()
	for i, f := range files {
		c.Add(f.URLPath, found[i])
	}
	b.logger.Debug("backlinks: graph built", logfields.Generation(idx.Generation), logfields.Count(len(files)))
	return c.Freeze(), nil
}
