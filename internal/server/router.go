package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/render"
	"github.com/starford/marksite/internal/search"
	"github.com/starford/marksite/internal/site"
)

// Options configures the routes.
type Options struct {
	MetadataEndpoint string
	SearchEndpoint   string
	AuthEnabled      bool
	Token            string
	LinkTracking     bool
}

// Deps are the components the handlers read from. Backlinks, Search, Events
// and Metrics may be nil; the matching routes then report the feature as
// unavailable or are not mounted.
type Deps struct {
	Store     *site.Store
	Pipeline  *render.Pipeline
	Backlinks *linkgraph.Backlinks
	Search    *search.DB
	Events    http.Handler
	Metrics   http.Handler
	Logger    *slog.Logger
}

// NewRouter creates a chi router with every route mounted. JSON endpoints
// and the event stream sit behind the bearer-token middleware; pages,
// health checks and metrics do not.
func NewRouter(deps Deps, opts Options) chi.Router {
	h := NewHandler(deps, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))
		r.Get(opts.MetadataEndpoint, h.Metadata)
		r.Post(opts.SearchEndpoint, h.Search)
		if deps.Events != nil {
			r.Get("/_events", deps.Events.ServeHTTP)
		}
	})

	r.Get("/*", h.Serve)
	return r
}
