package oembed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const maxBodySize = 1 << 20

// ErrNoMetadata means the page exposes neither oembed nor OpenGraph data.
var ErrNoMetadata = errors.New("oembed: no metadata")

// Fetcher retrieves metadata for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Metadata, error)
}

// HTTPFetcher discovers the oembed endpoint advertised by a page and falls
// back to its OpenGraph tags.
type HTTPFetcher struct {
	client       *http.Client
	allowPrivate bool
}

// NewHTTPFetcher returns a fetcher. Loopback and cloud metadata hosts are
// refused unless allowPrivate is set.
func NewHTTPFetcher(allowPrivate bool) *HTTPFetcher {
	f := &HTTPFetcher{allowPrivate: allowPrivate}
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return f.checkHost(req.URL.Hostname())
		},
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	page, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("oembed: invalid URL: %w", err)
	}
	if page.Scheme != "http" && page.Scheme != "https" {
		return nil, fmt.Errorf("oembed: unsupported scheme: %s", page.Scheme)
	}
	if err := f.checkHost(page.Hostname()); err != nil {
		return nil, err
	}

	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oembed: parse page: %w", err)
	}

	d := discover(doc)
	if d.endpoint != "" {
		if ep, err := page.Parse(d.endpoint); err == nil {
			if md, err := f.fetchEndpoint(ctx, ep.String()); err == nil {
				md.URL = rawURL
				return md, nil
			}
		}
	}
	if d.og.Title == "" {
		return nil, ErrNoMetadata
	}
	d.og.URL = rawURL
	if d.og.Type == "" {
		d.og.Type = "link"
	}
	return &d.og, nil
}

func (f *HTTPFetcher) fetchEndpoint(ctx context.Context, endpoint string) (*Metadata, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if err := f.checkHost(parsed.Hostname()); err != nil {
		return nil, err
	}
	body, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("oembed: decode response: %w", err)
	}
	if md.Title == "" && md.HTML == "" {
		return nil, ErrNoMetadata
	}
	return &md, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "marksite-oembed/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oembed: fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oembed: fetch failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("oembed: read body failed: %w", err)
	}
	return data, nil
}

// checkHost rejects loopback and cloud metadata addresses.
func (f *HTTPFetcher) checkHost(host string) error {
	if f.allowPrivate {
		return nil
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

type discovery struct {
	endpoint string
	og       Metadata
}

// discover scans a page for its oembed link and OpenGraph tags.
func discover(doc *html.Node) discovery {
	var d discovery
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "link":
				if d.endpoint == "" && strings.EqualFold(attr(n, "type"), "application/json+oembed") {
					d.endpoint = attr(n, "href")
				}
			case "meta":
				content := strings.TrimSpace(attr(n, "content"))
				switch strings.ToLower(attr(n, "property")) {
				case "og:title":
					d.og.Title = content
				case "og:description":
					d.og.Description = content
				case "og:image":
					d.og.ThumbnailURL = content
				case "og:site_name":
					d.og.ProviderName = content
				case "og:type":
					d.og.Type = content
				}
				if strings.EqualFold(attr(n, "name"), "description") && d.og.Description == "" {
					d.og.Description = content
				}
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "body":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if d.og.Title == "" {
		d.og.Title = title
	}
	return d
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
