package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/marksite/internal/apperr"
	"github.com/starford/marksite/internal/checksum"
	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/resolver"
	"github.com/starford/marksite/internal/search"
	"github.com/starford/marksite/internal/site"
)

const maxSearchBody = 64 << 10

// Handler holds the route handlers.
type Handler struct {
	deps Deps
	opts Options
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps, opts Options) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps, opts: opts}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. The server is ready once the first scan
// has been published.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	idx := h.deps.Store.Load()
	if idx.Generation == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "scanning"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": idx.Generation})
}

// Metadata returns the file, folder and tag source metadata of the snapshot.
func (h *Handler) Metadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Store.Load())
}

// Search handles the search endpoint.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.deps.Search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("search disabled"))
		return
	}
	var q search.Query
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSearchBody)).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	q.Q = strings.TrimSpace(q.Q)
	if err := q.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	resp, err := h.deps.Search.Search(r.Context(), q)
	if err != nil {
		h.deps.Logger.Error("search failed", logfields.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Serve handles every other GET through the resolver. Generated tag routes
// are consulted only when no page or file matched.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	idx := h.deps.Store.Load()
	// The resolver unescapes; a decoded path would lose "#" and "?" in names.
	reqPath := r.URL.EscapedPath()

	if base, ok := strings.CutSuffix(reqPath, "/links.json"); ok {
		h.links(w, r, idx, base+"/")
		return
	}

	res := resolver.Resolve(reqPath, idx)
	switch res.Kind {
	case resolver.MarkdownFile:
		f, _ := idx.FileByPath(res.Path)
		h.page(w, r, idx, f)
	case resolver.StaticFile:
		http.ServeFile(w, r, idx.Abs(res.Path))
	case resolver.DirectoryListing, resolver.NotFound:
		if g, ok := resolver.ResolveGenerated(reqPath, idx); ok {
			h.generated(w, idx, g)
			return
		}
		if res.Kind == resolver.DirectoryListing {
			h.html(w, http.StatusOK, func(buf io.Writer) error {
				return h.deps.Pipeline.WriteListing(buf, idx, idx.Folders[site.DirURL(res.Path)])
			})
			return
		}
		h.errorPage(w, http.StatusNotFound, "No page at "+resolver.Canonical(reqPath))
	}
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request, idx *site.Index, f *models.FileMetadata) {
	etag := checksum.ETag(f.Checksum, idx.Generation)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	page, err := h.deps.Pipeline.Render(r.Context(), idx, f)
	if err != nil {
		h.deps.Logger.Error("render failed", logfields.Path(f.Path), logfields.Error(err))
		h.errorPage(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("ETag", etag)
	h.html(w, http.StatusOK, func(buf io.Writer) error {
		return h.deps.Pipeline.WritePage(buf, idx, page)
	})
}

func (h *Handler) generated(w http.ResponseWriter, idx *site.Index, g resolver.Generated) {
	src := idx.TagSources[g.Source]
	switch g.Kind {
	case resolver.TagIndex:
		h.html(w, http.StatusOK, func(buf io.Writer) error {
			return h.deps.Pipeline.WriteTagIndex(buf, idx, src)
		})
	case resolver.TagPage:
		h.html(w, http.StatusOK, func(buf io.Writer) error {
			return h.deps.Pipeline.WriteTagPage(buf, idx, src, g.Tag)
		})
	}
}

// links serves the links.json document of the page at pageURL.
func (h *Handler) links(w http.ResponseWriter, r *http.Request, idx *site.Index, pageURL string) {
	if !h.opts.LinkTracking || h.deps.Backlinks == nil {
		writeJSON(w, http.StatusNotFound, errorBody(apperr.ErrLinkTrackingDisabled.Error()))
		return
	}
	res := resolver.Resolve(pageURL, idx)
	if res.Kind != resolver.MarkdownFile {
		writeJSON(w, http.StatusNotFound, errorBody(apperr.ErrNotFound.Error()))
		return
	}
	f, _ := idx.FileByPath(res.Path)
	doc, err := h.deps.Backlinks.Document(r.Context(), idx, f.URLPath)
	if err != nil {
		h.deps.Logger.Error("links: graph failed", logfields.URLPath(f.URLPath), logfields.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// html renders into a buffer first so a template failure becomes a clean
// error page instead of a truncated response.
func (h *Handler) html(w http.ResponseWriter, status int, fn func(io.Writer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		h.deps.Logger.Error("template failed", logfields.Error(err))
		h.errorPage(w, http.StatusInternalServerError, "template error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) errorPage(w http.ResponseWriter, status int, msg string) {
	var buf bytes.Buffer
	if err := h.deps.Pipeline.WriteError(&buf, status, msg); err != nil {
		http.Error(w, fmt.Sprintf("%d %s", status, http.StatusText(status)), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
