// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the current site snapshot to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/resolver"
	"github.com/starford/marksite/internal/search"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/storage"
)

const pageFormatURI = "marksite://page-format"

// Deps are the components the tools read from. Search and Backlinks may be
// nil; their tools then report the feature as unavailable.
type Deps struct {
	Store     *site.Store
	Files     storage.Provider
	Search    *search.DB
	Backlinks *linkgraph.Backlinks
	Version   string
}

// Server wraps the MCP server with marksite tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
}

// New creates a new MCP server with all tools registered.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"marksite",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Full-text search through page titles, descriptions, tags and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		mcp.WithString("scope", mcp.Description("One of all, title, content")),
		mcp.WithString("folder", mcp.Description("Only match pages below this folder")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read the markdown source of a page."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative file path (docs/guide.md) or url path (/docs/guide/)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List all pages or the pages below a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all pages that link to the specified page."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path or url path of the page")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List the tags of every configured tag source with their page counts."),
		mcp.WithString("source", mcp.Description("Optional tag source field (e.g. tags)")),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("get_page_contract",
		mcp.WithDescription("Returns the page format understood by the site generator."),
	), s.getPageContract)

	s.mcp.AddResource(
		mcp.NewResource(pageFormatURI, "Page Format",
			mcp.WithResourceDescription("Markdown page format: frontmatter, tags, links and embeds."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// lookup finds a page by relative file path or by any request path the
// resolver maps to a page.
func (s *Server) lookup(idx *site.Index, ref string) (*models.FileMetadata, bool) {
	if f, ok := idx.FileByPath(strings.TrimPrefix(ref, "/")); ok {
		return f, true
	}
	res := resolver.Resolve(ref, idx)
	if res.Kind != resolver.MarkdownFile {
		return nil, false
	}
	return idx.FileByPath(res.Path)
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Search == nil {
		return mcp.NewToolResultError("search is disabled"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := search.Query{
		Q:      query,
		Limit:  req.GetInt("limit", 0),
		Scope:  search.Scope(req.GetString("scope", "")),
		Folder: req.GetString("folder", ""),
	}
	resp, err := s.deps.Search.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func (s *Server) readPage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, ok := s.lookup(s.deps.Store.Load(), ref)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", ref)), nil
	}
	data, err := s.deps.Files.Read(f.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", f.Path, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type pageSummary struct {
	Path    string `json:"path"`
	URLPath string `json:"url_path"`
	Title   string `json:"title"`
}

func (s *Server) listPages(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")
	out := []pageSummary{}
	for _, f := range s.deps.Store.Load().SortedFiles() {
		if folder != "" && !strings.HasPrefix(f.Path, folder+"/") {
			continue
		}
		out = append(out, pageSummary{Path: f.Path, URLPath: f.URLPath, Title: f.Title})
	}
	return jsonResult(out)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Backlinks == nil {
		return mcp.NewToolResultError("link tracking is disabled"), nil
	}
	ref, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx := s.deps.Store.Load()
	f, ok := s.lookup(idx, ref)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", ref)), nil
	}
	inbound, err := s.deps.Backlinks.Inbound(ctx, idx, f.URLPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(inbound) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	seen := make(map[string]bool, len(inbound))
	var from []string
	for _, r := range inbound {
		if !seen[r.From] {
			seen[r.From] = true
			from = append(from, r.From)
		}
	}
	return mcp.NewToolResultText(strings.Join(from, "\n")), nil
}

type tagSummary struct {
	Source  string `json:"source"`
	Tag     string `json:"tag"`
	Display string `json:"display"`
	Count   int    `json:"count"`
	URLPath string `json:"url_path"`
}

func (s *Server) listTags(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	only := req.GetString("source", "")
	idx := s.deps.Store.Load()
	if only != "" {
		if _, ok := idx.TagSources[only]; !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown tag source: %s", only)), nil
		}
	}
	out := []tagSummary{}
	for _, src := range idx.Sources() {
		if only != "" && src.ID != only {
			continue
		}
		for _, e := range src.Sorted() {
			out = append(out, tagSummary{
				Source:  src.ID,
				Tag:     e.Normalized,
				Display: e.Display,
				Count:   e.Count,
				URLPath: src.TagPath(e.Normalized),
			})
		}
	}
	return jsonResult(out)
}

func (s *Server) getPageContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      pageFormatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
