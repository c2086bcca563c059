package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/marksite/internal/oembed"
)

// KindEmbed is the node kind of a resolved bare-link embed.
var KindEmbed = ast.NewNodeKind("Embed")

// Embed replaces a paragraph holding a single bare URL once metadata for
// that URL is known.
type Embed struct {
	ast.BaseBlock
	Meta *oembed.Metadata
}

func (n *Embed) Kind() ast.NodeKind { return KindEmbed }

func (n *Embed) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"URL": n.Meta.URL}, nil)
}

type embedRenderer struct{}

func (r embedRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindEmbed, r.renderEmbed)
}

func (r embedRenderer) renderEmbed(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Embed)
	_, _ = w.WriteString(embedHTML(n.Meta))
	return ast.WalkSkipChildren, nil
}

func embedHTML(md *oembed.Metadata) string {
	kind := md.Type
	if kind == "" {
		kind = "link"
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<figure class="embed embed-%s">`, html.EscapeString(kind))
	frame, ok := "", false
	if kind == "video" || kind == "rich" {
		frame, ok = iframeOnly(md.HTML)
	}
	if ok {
		b.WriteString(frame)
	} else {
		fmt.Fprintf(&b, `<a class="embed-card" href="%s">`, html.EscapeString(md.URL))
		if md.ThumbnailURL != "" {
			fmt.Fprintf(&b, `<img src="%s" alt="" loading="lazy">`, html.EscapeString(md.ThumbnailURL))
		}
		title := md.Title
		if title == "" {
			title = md.URL
		}
		fmt.Fprintf(&b, `<span class="embed-title">%s</span>`, html.EscapeString(title))
		if md.Description != "" {
			fmt.Fprintf(&b, `<span class="embed-description">%s</span>`, html.EscapeString(md.Description))
		}
		b.WriteString("</a>")
	}
	if md.ProviderName != "" {
		fmt.Fprintf(&b, `<figcaption>%s</figcaption>`, html.EscapeString(md.ProviderName))
	}
	b.WriteString("</figure>\n")
	return b.String()
}

// iframeAttrs are the provider iframe attributes carried into the page.
var iframeAttrs = map[string]bool{
	"src": true, "width": true, "height": true, "title": true, "allow": true,
	"allowfullscreen": true, "frameborder": true, "loading": true, "referrerpolicy": true,
}

// iframeOnly reduces provider markup to its first iframe with an http(s)
// source. Scripts, handlers and any other elements are dropped.
func iframeOnly(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	body := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(strings.NewReader(raw), body)
	if err != nil {
		return "", false
	}
	var frame *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if frame != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Iframe {
			frame = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	for _, n := range nodes {
		find(n)
	}
	if frame == nil {
		return "", false
	}

	var b strings.Builder
	b.WriteString("<iframe")
	hasSrc := false
	for _, a := range frame.Attr {
		key := strings.ToLower(a.Key)
		if a.Namespace != "" || !iframeAttrs[key] {
			continue
		}
		if key == "src" {
			u, err := url.Parse(a.Val)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", false
			}
			hasSrc = true
		}
		fmt.Fprintf(&b, ` %s="%s"`, key, html.EscapeString(a.Val))
	}
	if !hasSrc {
		return "", false
	}
	b.WriteString("></iframe>")
	return b.String(), true
}
