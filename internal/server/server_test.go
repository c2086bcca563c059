package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/render"
	"github.com/starford/marksite/internal/search"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/testutil"
)

var siteTree = map[string]string{
	"index.md":          "---\ntitle: Home\ntags: [Go]\n---\n# Home\n\nRead the [guide](docs/guide.md).\n",
	"docs/guide.md":     "---\ntitle: Guide\n---\n# Guide\n\nSearchable words here. Back [home](/).\n",
	"docs/img.png":      "png",
	"notes/a.md":        "# A\n",
	"notes/b.md":        "---\ntags: [go]\n---\n# B\n",
	"static/robots.txt": "User-agent: *",
}

type testEnv struct {
	store  *site.Store
	router http.Handler
}

func newEnv(t *testing.T, files map[string]string, opts Options) *testEnv {
	t.Helper()
	root := testutil.WriteTree(t, files)
	logger := testutil.Logger()
	sc, err := site.NewScanner(site.Options{
		Root:         root,
		Rules:        site.URLRules{Extensions: []string{".md"}, IndexFiles: []string{"index.md", "README.md"}},
		StaticFolder: "static",
		TagSources:   []models.TagSource{{Field: "tags"}},
		Workers:      2,
	}, logger)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	store := site.NewStore(sc, logger)
	idx, err := store.Rescan(context.Background())
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	tmpl, err := render.DefaultTemplates()
	if err != nil {
		t.Fatal(err)
	}
	pipeline := render.New(render.Options{SiteTitle: "Test", LinkTracking: opts.LinkTracking}, nil, tmpl, logger)

	db, err := search.Open(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("search.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := search.Sync(context.Background(), db, idx, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if opts.MetadataEndpoint == "" {
		opts.MetadataEndpoint = "/_marksite/site.json"
	}
	if opts.SearchEndpoint == "" {
		opts.SearchEndpoint = "/_marksite/search"
	}
	router := NewRouter(Deps{
		Store:     store,
		Pipeline:  pipeline,
		Backlinks: linkgraph.NewBacklinks(pipeline.Links, 2, logger),
		Search:    db,
		Logger:    logger,
	}, opts)
	return &testEnv{store: store, router: router}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newEnv(t, siteTree, Options{})
	if w := env.do(t, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/health/ready", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"generation":1`) {
		t.Errorf("ready = %d %s", w.Code, w.Body.String())
	}
}

func TestServePages(t *testing.T) {
	env := newEnv(t, siteTree, Options{})

	cases := []struct {
		path   string
		status int
		want   string
	}{
		{"/", http.StatusOK, `href="/docs/guide/"`},
		{"/docs/guide/", http.StatusOK, "Searchable words"},
		{"/docs/guide", http.StatusOK, "Searchable words"},
		{"/docs//./guide.md", http.StatusOK, "Searchable words"},
		{"/docs/%67uide/", http.StatusOK, "Searchable words"},
		{"/notes/", http.StatusOK, `href="/notes/a/"`},
		{"/docs/img.png", http.StatusOK, "png"},
		{"/robots.txt", http.StatusOK, "User-agent"},
		{"/tags/", http.StatusOK, `href="/tags/go/"`},
		{"/tags/go/", http.StatusOK, `href="/notes/b/"`},
		{"/tags/nope/", http.StatusNotFound, "404"},
		{"/missing/", http.StatusNotFound, "No page at /missing"},
	}
	for _, tc := range cases {
		w := env.do(t, http.MethodGet, tc.path, nil)
		if w.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.path, w.Code, tc.status)
			continue
		}
		if !strings.Contains(w.Body.String(), tc.want) {
			t.Errorf("%s: body missing %q", tc.path, tc.want)
		}
	}
}

func TestRealFileBeatsGeneratedRoute(t *testing.T) {
	files := map[string]string{
		"tags/index.md": "# Hand Written Tags\n",
		"post.md":       "---\ntags: [go]\n---\n# Post\n",
	}
	env := newEnv(t, files, Options{})
	w := env.do(t, http.MethodGet, "/tags/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Hand Written Tags") {
		t.Errorf("/tags/ = %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/tags/go/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `href="/post/"`) {
		t.Errorf("/tags/go/ = %d", w.Code)
	}
}

func TestETag(t *testing.T) {
	env := newEnv(t, siteTree, Options{})
	w := env.do(t, http.MethodGet, "/docs/guide/", nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	w = env.do(t, http.MethodGet, "/docs/guide/", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional GET = %d, want 304", w.Code)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	env := newEnv(t, siteTree, Options{})
	w := env.do(t, http.MethodGet, "/_marksite/site.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Files      []models.FileMetadata            `json:"files"`
		Folders    []models.FolderMetadata          `json:"folders"`
		TagSources map[string]models.TagSourceIndex `json:"tag_sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Files) != 4 {
		t.Errorf("files = %d, want 4", len(body.Files))
	}
	if _, ok := body.TagSources["tags"]; !ok {
		t.Errorf("tag source missing: %v", body.TagSources)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newEnv(t, siteTree, Options{})

	body, _ := json.Marshal(map[string]any{"q": "searchable", "limit": 5})
	w := env.do(t, http.MethodPost, "/_marksite/search", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp search.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalMatches != 1 || resp.Results[0].URLPath != "/docs/guide/" {
		t.Errorf("resp = %+v", resp)
	}

	w = env.do(t, http.MethodPost, "/_marksite/search", []byte(`{"q":"x","scope":"bogus"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad scope status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/_marksite/search", []byte(`{"q":"   "}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank query status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/_marksite/search", []byte(`{`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", w.Code)
	}
}

func TestLinksJSON(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newEnv(t, siteTree, Options{})
		w := env.do(t, http.MethodGet, "/docs/guide/links.json", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		env := newEnv(t, siteTree, Options{LinkTracking: true})
		w := env.do(t, http.MethodGet, "/docs/guide/links.json", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var doc linkgraph.Document
		if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if len(doc.Inbound) != 1 || doc.Inbound[0].From != "/" {
			t.Errorf("inbound = %+v", doc.Inbound)
		}
		if len(doc.Outbound) != 1 || doc.Outbound[0].To != "/" || !doc.Outbound[0].Internal {
			t.Errorf("outbound = %+v", doc.Outbound)
		}
	})

	t.Run("relative parent link", func(t *testing.T) {
		env := newEnv(t, map[string]string{
			"docs/index.md":    "# Docs\n",
			"docs/sub/leaf.md": "# Leaf\n\nUp to the [hub](../).\n",
		}, Options{LinkTracking: true})
		w := env.do(t, http.MethodGet, "/docs/links.json", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var doc linkgraph.Document
		if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if len(doc.Inbound) != 1 || doc.Inbound[0].From != "/docs/sub/leaf/" || doc.Inbound[0].Text != "hub" {
			t.Errorf("inbound = %+v", doc.Inbound)
		}
	})
}

func TestServeTagsNeedingEscapes(t *testing.T) {
	env := newEnv(t, map[string]string{
		"post.md": "---\ntitle: Post\ntags: [\"c#\", \"why?\"]\n---\n# Post\n",
	}, Options{})

	w := env.do(t, http.MethodGet, "/tags/", nil)
	for _, href := range []string{`href="/tags/c%23/"`, `href="/tags/why%3F/"`} {
		if !strings.Contains(w.Body.String(), href) {
			t.Errorf("tag index missing %s", href)
		}
	}
	for _, target := range []string{"/tags/c%23/", "/tags/why%3F/"} {
		w := env.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `href="/post/"`) {
			t.Errorf("%s: status = %d", target, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/tags/c", nil); w.Code != http.StatusNotFound {
		t.Errorf("/tags/c: status = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newEnv(t, siteTree, Options{AuthEnabled: true, Token: "secret"})

	w := env.do(t, http.MethodGet, "/_marksite/site.json", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("401 without WWW-Authenticate challenge")
	}
	if w := env.do(t, http.MethodGet, "/_marksite/site.json", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/_marksite/site.json", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/_marksite/site.json?access_token=secret", nil); w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/_marksite/site.json?access_token=nope", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/", nil); w.Code != http.StatusOK {
		t.Errorf("pages must stay public, got %d", w.Code)
	}
}

func TestRescanIsVisible(t *testing.T) {
	env := newEnv(t, siteTree, Options{})
	if w := env.do(t, http.MethodGet, "/fresh/", nil); w.Code != http.StatusNotFound {
		t.Fatalf("before rescan = %d", w.Code)
	}
	testutil.AddFiles(t, env.store.Load().Root, map[string]string{"fresh.md": "# Fresh\n"})
	if _, err := env.store.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w := env.do(t, http.MethodGet, "/fresh/", nil); w.Code != http.StatusOK {
		t.Errorf("after rescan = %d", w.Code)
	}
}
