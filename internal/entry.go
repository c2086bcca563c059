// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marksite/internal/apperr"
	"github.com/starford/marksite/internal/build"
	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/mcpserver"
	"github.com/starford/marksite/internal/metrics"
	"github.com/starford/marksite/internal/oembed"
	"github.com/starford/marksite/internal/render"
	"github.com/starford/marksite/internal/search"
	"github.com/starford/marksite/internal/server"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/sse"
	"github.com/starford/marksite/internal/storage"
)

const (
	watchDebounce  = 200 * time.Millisecond
	sseKeepAlive   = 15 * time.Second
	shutdownGrace  = 10 * time.Second
	readHeaderWait = 10 * time.Second
)

// components holds what every command shares.
type components struct {
	cfg      *Config
	version  string
	logger   *slog.Logger
	registry *prom.Registry
	recorder metrics.Recorder
	scanner  *site.Scanner
	embeds   *oembed.Cache
	pipeline *render.Pipeline
}

func setup(opts []Option, liveReload bool) (*components, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	rt := &components{cfg: cfg, version: app.version, logger: logger, recorder: metrics.NoopRecorder{}}
	if cfg.Metrics.Enabled {
		rt.registry = prom.NewRegistry()
		rt.recorder = metrics.NewPrometheusRecorder(rt.registry)
	}

	scanner, err := site.NewScanner(cfg.ScannerOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("init scanner: %w", err)
	}
	rt.scanner = scanner.WithRecorder(rt.recorder)

	cacheBytes, err := cfg.Oembed.CacheBytes()
	if err != nil {
		return nil, err
	}
	rt.embeds = oembed.New(
		oembed.Config{Timeout: cfg.Oembed.Timeout(), MaxBytes: cacheBytes},
		oembed.NewHTTPFetcher(cfg.Oembed.AllowPrivateHosts),
		oembed.WithLogger(logger),
		oembed.WithRecorder(rt.recorder),
	)

	tmpl, err := render.DefaultTemplates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	rt.pipeline = render.New(render.Options{
		SiteTitle:    cfg.Site.Title,
		InlineSource: cfg.Tags.InlineSource,
		LinkTracking: cfg.Links.Tracking,
		LiveReload:   liveReload,
		Extensions:   cfg.Site.MarkdownFeatures,
	}, rt.embeds, tmpl, logger).WithRecorder(rt.recorder)

	logger.Info("Configuration loaded",
		slog.String("root", scanner.Root()),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("link_tracking", cfg.Links.Tracking),
		slog.Bool("oembed_enabled", rt.embeds.Enabled()),
		slog.String("oembed_cache", humanize.IBytes(uint64(cacheBytes))),
		slog.Bool("metrics_enabled", cfg.Metrics.Enabled))
	return rt, nil
}

// openSearch opens the search store and syncs it with idx. A blank path
// disables search.
func (rt *components) openSearch(ctx context.Context, idx *site.Index) (*search.DB, error) {
	p := rt.cfg.Search.Path
	if p == "" {
		rt.logger.Info("search disabled")
		return nil, nil
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create search dir: %w", err)
		}
	}
	db, err := search.Open(p)
	if err != nil {
		return nil, fmt.Errorf("init search: %w", err)
	}
	if _, err := search.Sync(ctx, db, idx, rt.logger); err != nil {
		rt.logger.Warn("initial search sync failed", logfields.Error(err))
	}
	return db, nil
}

func (rt *components) backlinks() *linkgraph.Backlinks {
	if !rt.cfg.Links.Tracking {
		return nil
	}
	return linkgraph.NewBacklinks(rt.pipeline.Links, rt.cfg.Build.Concurrency, rt.logger)
}

// watch rescans on every debounced change, keeps the search store in step
// and reports the new generation through notify.
func (rt *components) watch(ctx context.Context, store *site.Store, db *search.DB, notify func(gen uint64, paths []string)) error {
	globs := append(append([]string{}, rt.cfg.Site.IgnoreGlobs...), rt.cfg.Site.WatcherIgnore...)
	ignore, err := site.NewIgnore(rt.cfg.Site.IgnoreDirs, globs)
	if err != nil {
		return err
	}
	if rel, ok := relInside(rt.scanner.Root(), rt.cfg.Build.Output); ok {
		ignore = ignore.Exclude(rel)
	}

	return site.Watch(ctx, rt.scanner.Root(), ignore, watchDebounce, rt.logger, func(paths []string) {
		idx, err := store.Rescan(ctx)
		if err != nil {
			rt.logger.Error("rescan failed", logfields.Error(err))
			return
		}
		if db != nil {
			if _, err := search.Sync(ctx, db, idx, rt.logger); err != nil {
				rt.logger.Warn("search sync failed", logfields.Error(err))
			}
		}
		if notify != nil {
			notify(idx.Generation, paths)
		}
	})
}

// RunServe starts the development server with live reload.
func RunServe(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts, true)
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	store := site.NewStore(rt.scanner, logger)
	idx, err := store.Rescan(ctx)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	db, err := rt.openSearch(ctx, idx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	broker := sse.NewBroker(sseKeepAlive)
	defer broker.Close()

	deps := server.Deps{
		Store:     store,
		Pipeline:  rt.pipeline,
		Backlinks: rt.backlinks(),
		Search:    db,
		Events:    broker,
		Logger:    logger,
	}
	if rt.registry != nil {
		deps.Metrics = metrics.HTTPHandler(rt.registry)
	}
	router := server.NewRouter(deps, server.Options{
		MetadataEndpoint: cfg.Site.SiteMetadataEndpoint,
		SearchEndpoint:   cfg.Site.SearchEndpoint,
		AuthEnabled:      cfg.Auth.AuthEnabled(),
		Token:            cfg.Auth.Token,
		LinkTracking:     cfg.Links.Tracking,
	})

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: readHeaderWait,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := rt.watch(gCtx, store, db, broker.PublishChange); err != nil {
			logger.Error("watcher failed, live reload disabled", logfields.Error(err))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("Closing live reload streams", logfields.Count(broker.ClientCount()))
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", logfields.Error(err))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", logfields.Error(err))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunBuild renders the site into the configured output directory and
// returns the process exit code.
func RunBuild(ctx context.Context, opts ...Option) (int, error) {
	rt, err := setup(opts, false)
	if err != nil {
		return apperr.ExitFailure, err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := build.New(rt.scanner, rt.pipeline, rt.logger).WithRecorder(rt.recorder)
	report, err := orch.Build(ctx, rt.cfg.BuildOptions())
	code := apperr.ExitCode(report, err)
	if report != nil {
		rt.logger.Info("build finished",
			logfields.BuildID(report.ID),
			slog.String("outcome", string(report.Outcome)),
			slog.Int("written", report.Succeeded()),
			slog.Int("failed", report.Failed()),
			slog.Int("broken_links", len(report.BrokenLinks)),
			slog.Int("warnings", len(report.Warnings)),
			slog.Bool("published", report.Published),
			logfields.Duration(report.Duration()),
			slog.Int("exit_code", code))
	}
	return code, err
}

// RunMCP serves the MCP tools on stdio until the client disconnects. The
// snapshot follows the content tree through the watcher.
func RunMCP(ctx context.Context, opts ...Option) error {
	rt, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...), false)
	if err != nil {
		return err
	}
	store := site.NewStore(rt.scanner, rt.logger)
	idx, err := store.Rescan(ctx)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	files, err := storage.NewFS(rt.scanner.Root())
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := rt.openSearch(ctx, idx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := rt.watch(watchCtx, store, db, nil); err != nil {
			rt.logger.Warn("watcher failed, snapshot will not refresh", logfields.Error(err))
		}
	}()

	srv := mcpserver.New(mcpserver.Deps{
		Store:     store,
		Files:     files,
		Search:    db,
		Backlinks: rt.backlinks(),
		Version:   rt.version,
	})
	return srv.ServeStdio()
}

// relInside returns target relative to root when target lies strictly
// inside root.
func relInside(root, target string) (string, bool) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
