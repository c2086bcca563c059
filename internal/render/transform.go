package render

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/yuin/goldmark/ast"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/parser"
	"github.com/starford/marksite/internal/site"
)

// ErrMissingAsset is returned when a page embeds a local image that does not exist.
var ErrMissingAsset = errors.New("render: missing referenced asset")

// Heading is one entry of a page's table of contents.
type Heading struct {
	Level int
	ID    string
	Text  string
}

type embedCandidate struct {
	para *ast.Paragraph
	url  string
}

type transformResult struct {
	toc    []Heading
	embeds []embedCandidate
	errs   []error
}

// transform rewrites link destinations in place and collects headings and
// bare-URL paragraphs.
func transform(doc ast.Node, source []byte, idx *site.Index, f *models.FileMetadata) transformResult {
	var res transformResult
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			node.Destination = []byte(rewriteDestination(idx, f, string(node.Destination)))
		case *ast.Image:
			dest := string(node.Destination)
			rewritten := rewriteDestination(idx, f, dest)
			if missingAsset(idx, dest, rewritten) {
				res.errs = append(res.errs, fmt.Errorf("%w: %s", ErrMissingAsset, dest))
			}
			node.Destination = []byte(rewritten)
		case *ast.Heading:
			h := Heading{Level: node.Level, Text: nodeText(node, source)}
			if id, ok := node.AttributeString("id"); ok {
				if b, ok := id.([]byte); ok {
					h.ID = string(b)
				}
			}
			res.toc = append(res.toc, h)
		case *ast.Paragraph:
			if u, ok := bareURL(node, source); ok {
				res.embeds = append(res.embeds, embedCandidate{para: node, url: u})
			}
		}
		return ast.WalkContinue, nil
	})
	return res
}

// rewriteDestination maps repository-relative link targets onto site urls.
// Links to markdown sources become page urls; other local targets become
// root-relative so they survive the page moving into its own directory.
func rewriteDestination(idx *site.Index, f *models.FileMetadata, dest string) string {
	if dest == "" || strings.HasPrefix(dest, "#") {
		return dest
	}
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return dest
	}

	var rel string
	if strings.HasPrefix(u.Path, "/") {
		rel = strings.TrimPrefix(path.Clean(u.Path), "/")
	} else {
		rel = path.Join(path.Dir(f.Path), u.Path)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return dest
		}
	}

	out := &url.URL{RawQuery: u.RawQuery, Fragment: u.Fragment}
	switch {
	case idx.Rules.IsMarkdown(rel):
		page, ok := idx.FileByPath(rel)
		if !ok {
			return dest
		}
		out.Path = page.URLPath
	case strings.HasPrefix(u.Path, "/"):
		return dest
	default:
		out.Path = "/" + rel
		if strings.HasSuffix(u.Path, "/") && rel != "." {
			out.Path += "/"
		}
		if rel == "." {
			out.Path = site.DirURL(path.Dir(f.Path))
		}
	}
	return out.String()
}

// missingAsset reports whether a local image target is absent from the snapshot.
func missingAsset(idx *site.Index, original, rewritten string) bool {
	u, err := url.Parse(original)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return false
	}
	target, err := url.Parse(rewritten)
	if err != nil {
		return false
	}
	return !idx.Known(target.Path) && !idx.Known(linkgraph.CanonicalURL(target.Path))
}

// bareURL reports whether p holds nothing but one autolinked URL.
func bareURL(p *ast.Paragraph, source []byte) (string, bool) {
	if p.ChildCount() != 1 {
		return "", false
	}
	link, ok := p.FirstChild().(*ast.AutoLink)
	if !ok || link.AutoLinkType != ast.AutoLinkURL {
		return "", false
	}
	u := string(link.URL(source))
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", false
	}
	return u, true
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// rewriter resolves wikilinks and inline tags against the snapshot.
func rewriter(idx *site.Index, inlineSource string) parser.Rewriter {
	rw := parser.Rewriter{
		Wikilink: func(w parser.Wikilink) string {
			out := &url.URL{Fragment: anchorID(w.Anchor)}
			if w.Target == "" {
				return out.String()
			}
			if page, ok := idx.ResolveWikilink(w.Target); ok {
				out.Path = page.URLPath
			} else {
				out.Path = linkgraph.CanonicalURL("/" + w.Target)
			}
			return out.String()
		},
	}
	if src, ok := idx.TagSources[inlineSource]; ok {
		rw.InlineTag = func(tag string) string {
			n := parser.NormalizeTag(tag)
			if n == "" {
				return ""
			}
			return src.TagURL(n)
		}
	}
	return rw
}

// anchorID approximates the automatic heading id for a heading text.
func anchorID(heading string) string {
	return strings.ToLower(strings.Join(strings.Fields(heading), "-"))
}
