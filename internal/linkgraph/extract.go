// Package linkgraph extracts links from rendered pages and builds the
// inbound/outbound link graph.
package linkgraph

import (
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/starford/marksite/internal/models"
)

// ExtractLinks parses rendered HTML and returns one record per anchor that
// points at another page or an external resource. from is the url path of
// the page the HTML belongs to.
func ExtractLinks(r io.Reader, from string) ([]models.LinkRecord, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []models.LinkRecord
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if rec, ok := Classify(from, getAttr(n, "href")); ok {
				rec.Text = extractText(n)
				links = append(links, rec)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// Classify turns an href found on page from into a link record. Same-page
// fragments and non-navigational schemes are dropped. Site-relative targets
// are resolved against from and canonicalized.
func Classify(from, href string) (models.LinkRecord, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return models.LinkRecord{}, false
	}
	u, err := url.Parse(href)
	if err != nil {
		return models.LinkRecord{}, false
	}
	switch strings.ToLower(u.Scheme) {
	case "mailto", "tel", "javascript", "data":
		return models.LinkRecord{}, false
	}

	if u.Scheme != "" || u.Host != "" {
		ext := *u
		ext.Fragment = ""
		return models.LinkRecord{From: from, To: ext.String(), Anchor: u.Fragment}, true
	}

	target := u.Path
	if target == "" {
		target = from
	} else if !strings.HasPrefix(target, "/") {
		target = path.Join(from, target)
		if strings.HasSuffix(u.Path, "/") {
			target += "/"
		}
	}
	return models.LinkRecord{From: from, To: CanonicalURL(target), Anchor: u.Fragment, Internal: true}, true
}

// CanonicalURL cleans a site path. Paths naming a file keep their form,
// page paths get a trailing slash.
func CanonicalURL(p string) string {
	trailing := strings.HasSuffix(p, "/")
	p = path.Clean("/" + p)
	if p == "/" {
		return p
	}
	if trailing || path.Ext(p) == "" {
		return p + "/"
	}
	return p
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// extractText extracts the text content of a node with whitespace collapsed.
func extractText(n *html.Node) string {
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(text.String()), " ")
}
