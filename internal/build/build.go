// Package build renders a whole site snapshot into a static output tree.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marksite/internal/apperr"
	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/metrics"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/render"
	"github.com/starford/marksite/internal/resolver"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/storage"
)

// ManifestFile is written at the output root of every published build.
const ManifestFile = "_site.json"

// Options configures one build run.
type Options struct {
	Output             string
	Concurrency        int
	LinkTracking       bool
	SkipLinkValidation bool
	SkipTagPages       bool
}

// Orchestrator runs builds. The output is assembled in a staging directory
// next to the target and moved into place only when the run completes; a
// failed or canceled run leaves the previous output untouched.
type Orchestrator struct {
	scanner  *site.Scanner
	pipeline *render.Pipeline
	logger   *slog.Logger
	recorder metrics.Recorder
}

func New(scanner *site.Scanner, pipeline *render.Pipeline, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scanner:  scanner,
		pipeline: pipeline,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
}

// WithRecorder sets the metrics recorder.
func (o *Orchestrator) WithRecorder(r metrics.Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// run carries the per-build state shared by the stages.
type run struct {
	opts      Options
	idx       *site.Index
	staging   *storage.FS
	report    *Report
	logger    *slog.Logger
	generated map[string]bool
}

func (r *run) stage(name string, start time.Time) {
	d := time.Since(start)
	r.report.StageDurations[name] = d
	r.logger.Debug("build: stage done", logfields.Stage(name), logfields.Duration(d))
}

// Build scans the content root and writes the site to opts.Output. The
// returned error is non-nil only for fatal conditions; per-page failures are
// recorded in the report.
func (o *Orchestrator) Build(ctx context.Context, opts Options) (report *Report, err error) {
	report = newReport(uuid.NewString())
	logger := o.logger.With(logfields.BuildID(report.ID))
	defer func() {
		if err != nil {
			report.End = time.Now()
			report.Outcome = OutcomeFailed
			if errors.Is(err, apperr.ErrCanceled) {
				report.Outcome = OutcomeCanceled
			}
			if apperr.IsFatal(err) {
				logger.Error("build: aborted", slog.Bool("fatal", true), logfields.Error(err))
			} else {
				logger.Error("build: aborted by unexpected error", slog.Bool("fatal", false), logfields.Error(err))
			}
		}
		o.recorder.ObserveBuildDuration(report.Duration())
		o.recorder.IncBuildOutcome(string(report.Outcome))
	}()

	out, scanner, err := o.prepare(opts.Output)
	if err != nil {
		return report, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = site.DefaultWorkers()
	}
	logger.Info("build: started", slog.String("output", out), slog.Int("concurrency", opts.Concurrency))

	start := time.Now()
	idx, err := scanner.Scan(ctx)
	if ctx.Err() != nil {
		return report, fmt.Errorf("build: %w: %w", apperr.ErrCanceled, ctx.Err())
	}
	if err != nil {
		return report, fmt.Errorf("build: scan: %w", err)
	}
	report.Generation = idx.Generation

	staging, err := newStaging(out)
	if err != nil {
		return report, err
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(staging.Root())
		}
	}()

	r := &run{opts: opts, idx: idx, staging: staging, report: report, logger: logger, generated: map[string]bool{}}
	r.stage("scan", start)

	start = time.Now()
	collector, canceled := o.renderPages(ctx, r)
	r.stage("render", start)
	if canceled {
		return report, fmt.Errorf("build: %w", apperr.ErrCanceled)
	}

	graph := collector.Freeze()
	if opts.LinkTracking {
		start = time.Now()
		if err := o.writeLinkDocs(r, graph); err != nil {
			return report, err
		}
		r.stage("links", start)
	}

	start = time.Now()
	if err := o.linkAssets(r); err != nil {
		return report, err
	}
	r.stage("assets", start)

	if !opts.SkipTagPages {
		start = time.Now()
		if err := o.writeTagPages(r); err != nil {
			return report, err
		}
		r.stage("tags", start)
	}

	start = time.Now()
	if err := o.writeListings(r); err != nil {
		return report, err
	}
	r.stage("listings", start)

	if !opts.SkipLinkValidation {
		report.BrokenLinks = graph.Broken(func(u string) bool { return idx.Known(u) || r.generated[u] })
		for _, b := range report.BrokenLinks {
			logger.Warn("build: broken link", slog.String("source", b.Source), slog.String("target", b.Target))
		}
	}

	report.finish(false)
	if report.Succeeded() == 0 && report.Failed() > 0 {
		logger.Error("build: every page failed, keeping previous output", logfields.Count(report.Failed()))
		return report, nil
	}

	start = time.Now()
	if err := o.writeManifest(r); err != nil {
		return report, err
	}
	if err := publish(staging.Root(), out); err != nil {
		return report, err
	}
	published = true
	report.Published = true
	report.End = time.Now()
	r.stage("publish", start)

	logger.Info("build: finished",
		slog.String("outcome", string(report.Outcome)),
		slog.Int("written", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("broken_links", len(report.BrokenLinks)),
		logfields.Duration(report.Duration()))
	return report, nil
}

// prepare validates the output location. An output inside the content root
// is pruned from the scan; an output that is or contains the root is refused.
func (o *Orchestrator) prepare(output string) (string, *site.Scanner, error) {
	if strings.TrimSpace(output) == "" {
		return "", nil, fmt.Errorf("build: output directory not set: %w", apperr.ErrInvalidConfig)
	}
	out, err := filepath.Abs(output)
	if err != nil {
		return "", nil, fmt.Errorf("build: resolve output: %w", err)
	}
	root := o.scanner.Root()
	if out == root || within(out, root) {
		return "", nil, fmt.Errorf("build: output %s would replace the content root: %w", out, apperr.ErrInvalidConfig)
	}
	if err := claimable(out); err != nil {
		return "", nil, err
	}
	scanner := o.scanner
	if within(root, out) {
		rel, _ := filepath.Rel(root, out)
		scanner = scanner.Exclude(filepath.ToSlash(rel))
	}
	return out, scanner, nil
}

// claimable reports whether out may be replaced by a build: it is missing,
// empty, or holds the manifest of an earlier build.
func claimable(out string) error {
	entries, err := os.ReadDir(out)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("build: read output %s: %w: %w", out, apperr.ErrOutputUnwritable, err)
	case len(entries) == 0:
		return nil
	}
	if _, err := os.Stat(filepath.Join(out, ManifestFile)); err != nil {
		return fmt.Errorf("build: output %s is not empty and holds no %s: %w", out, ManifestFile, apperr.ErrInvalidConfig)
	}
	return nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func newStaging(out string) (*storage.FS, error) {
	parent := filepath.Dir(out)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	dir, err := os.MkdirTemp(parent, ".marksite-build-*")
	if err != nil {
		return nil, fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return nil, fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	return fs, nil
}

// renderPages runs one job per page on a bounded pool. Cancellation stops
// dispatching; jobs already running finish.
func (o *Orchestrator) renderPages(ctx context.Context, r *run) (*linkgraph.Collector, bool) {
	files := r.idx.SortedFiles()
	jobs := make([]JobResult, len(files))
	links := make([][]models.LinkRecord, len(files))
	for i, f := range files {
		jobs[i] = JobResult{Path: f.Path, URLPath: f.URLPath, State: Pending}
	}

	jobCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	canceled := false
	for i, f := range files {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		g.Go(func() error {
			jobs[i].State = Rendering
			out, recs, err := o.renderPage(jobCtx, r, f)
			if err != nil {
				jobs[i].State = Failed
				jobs[i].Error = err.Error()
				o.recorder.IncJobResult("page", metrics.ResultFailed)
				r.logger.Warn("build: page failed", logfields.Path(f.Path), logfields.JobState(Failed.String()), logfields.Error(err))
				return nil
			}
			jobs[i].State = Written
			jobs[i].Output = out
			links[i] = recs
			o.recorder.IncJobResult("page", metrics.ResultWritten)
			return nil
		})
	}
	_ = g.Wait()
	r.report.Jobs = jobs

	collector := linkgraph.NewCollector()
	for i, j := range jobs {
		if j.State == Written {
			collector.Add(j.URLPath, links[i])
		}
	}
	return collector, canceled
}

func (o *Orchestrator) renderPage(ctx context.Context, r *run, f *models.FileMetadata) (string, []models.LinkRecord, error) {
	page, err := o.pipeline.Render(ctx, r.idx, f)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	if err := o.pipeline.WritePage(&buf, r.idx, page); err != nil {
		return "", nil, err
	}
	out := site.OutputPath(f.URLPath)
	if err := r.staging.Write(out, buf.Bytes()); err != nil {
		return "", nil, err
	}
	return out, page.Links, nil
}

// writeLinkDocs is the second link pass: every written page gets a
// links.json built from the completed graph.
func (o *Orchestrator) writeLinkDocs(r *run, graph *linkgraph.Graph) error {
	for _, j := range r.report.Jobs {
		if j.State != Written {
			continue
		}
		data, err := json.MarshalIndent(graph.Document(j.URLPath), "", "  ")
		if err != nil {
			return fmt.Errorf("build: encode links for %s: %w", j.URLPath, err)
		}
		if err := r.staging.Write(path.Join(strings.Trim(j.URLPath, "/"), "links.json"), data); err != nil {
			return fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
		}
		r.report.LinkDocs++
	}
	return nil
}

// linkAssets symlinks static overlay files and tree assets into the output.
// Static files win over tree assets at the same url.
func (o *Orchestrator) linkAssets(r *run) error {
	for _, set := range []map[string]string{r.idx.Static, r.idx.Assets} {
		urls := make([]string, 0, len(set))
		for u := range set {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			dst := strings.TrimPrefix(u, "/")
			if r.staging.Exists(dst) {
				r.report.warn("asset shadowed: " + u)
				continue
			}
			err := r.staging.Symlink(r.idx.Abs(set[u]), dst)
			if errors.Is(err, apperr.ErrSymlinkUnsupported) {
				return fmt.Errorf("build: %w", err)
			}
			if err != nil {
				r.report.warn(err.Error())
				r.logger.Warn("build: asset not linked", logfields.URLPath(u), logfields.Error(err))
				continue
			}
			r.report.Assets++
		}
	}
	return nil
}

// writeTagPages writes the generated tag index and tag pages. A url served
// by a real page or file is left to that content.
func (o *Orchestrator) writeTagPages(r *run) error {
	for _, src := range r.idx.Sources() {
		if err := o.writeGenerated(r, src.URLPath, func(w io.Writer) error {
			return o.pipeline.WriteTagIndex(w, r.idx, src)
		}); err != nil {
			return err
		}
		for _, e := range src.Sorted() {
			if err := o.writeGenerated(r, src.TagPath(e.Normalized), func(w io.Writer) error {
				return o.pipeline.WriteTagPage(w, r.idx, src, e.Normalized)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeGenerated stores a synthesized page at the unescaped site path u.
func (o *Orchestrator) writeGenerated(r *run, u string, fn func(io.Writer) error) error {
	switch resolver.Resolve((&url.URL{Path: u}).EscapedPath(), r.idx).Kind {
	case resolver.MarkdownFile, resolver.StaticFile:
		r.logger.Debug("build: generated page shadowed by content", logfields.URLPath(u))
		return nil
	}
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		r.report.warn(err.Error())
		r.logger.Warn("build: tag page failed", logfields.URLPath(u), logfields.Error(err))
		return nil
	}
	if err := r.staging.Write(site.OutputPath(u), buf.Bytes()); err != nil {
		return fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	r.generated[u] = true
	r.report.TagPages++
	return nil
}

// writeListings writes a listing for every folder without an index file.
func (o *Orchestrator) writeListings(r *run) error {
	for _, folder := range r.idx.SortedFolders() {
		if folder.IndexFile != "" || r.generated[folder.URLPath] {
			continue
		}
		if _, ok := r.idx.File(folder.URLPath); ok {
			continue
		}
		var buf bytes.Buffer
		if err := o.pipeline.WriteListing(&buf, r.idx, folder); err != nil {
			r.report.warn(err.Error())
			r.logger.Warn("build: listing failed", logfields.URLPath(folder.URLPath), logfields.Error(err))
			continue
		}
		if err := r.staging.Write(site.OutputPath(folder.URLPath), buf.Bytes()); err != nil {
			return fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
		}
		r.report.Listings++
	}
	return nil
}

type manifest struct {
	BuildID     string                            `json:"build_id"`
	Generation  uint64                            `json:"generation"`
	GeneratedAt time.Time                         `json:"generated_at"`
	Outcome     Outcome                           `json:"outcome"`
	Pages       []JobResult                       `json:"pages"`
	Files       []*models.FileMetadata            `json:"files"`
	Folders     []*models.FolderMetadata          `json:"folders"`
	TagSources  map[string]*models.TagSourceIndex `json:"tag_sources"`
	BrokenLinks []linkgraph.BrokenLink            `json:"broken_links"`
	Outputs     []storage.Entry                   `json:"outputs"`
}

func (o *Orchestrator) writeManifest(r *run) error {
	outputs, err := r.staging.List("")
	if err != nil {
		return fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	var total int64
	for _, e := range outputs {
		total += e.Size
	}
	m := manifest{
		BuildID:     r.report.ID,
		Generation:  r.idx.Generation,
		GeneratedAt: r.report.End.UTC(),
		Outcome:     r.report.Outcome,
		Pages:       r.report.Jobs,
		Files:       r.idx.SortedFiles(),
		Folders:     r.idx.SortedFolders(),
		TagSources:  r.idx.TagSources,
		BrokenLinks: r.report.BrokenLinks,
		Outputs:     outputs,
	}
	if m.BrokenLinks == nil {
		m.BrokenLinks = []linkgraph.BrokenLink{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("build: encode manifest: %w", err)
	}
	if err := r.staging.Write(ManifestFile, data); err != nil {
		return fmt.Errorf("build: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	r.logger.Info("build: manifest written",
		logfields.Count(len(outputs)),
		slog.String("size", humanize.IBytes(uint64(total))))
	return nil
}

// publish replaces out with the staging tree.
func publish(staging, out string) error {
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("build: remove previous output: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	if err := os.Rename(staging, out); err != nil {
		return fmt.Errorf("build: publish: %w: %w", apperr.ErrOutputUnwritable, err)
	}
	return nil
}
