// Package oembed fetches embed metadata for bare links and caches it in a
// byte-bounded LRU shared by concurrent renders.
package oembed

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Metadata is the subset of an oembed response, or OpenGraph fallback,
// used to render an embed.
type Metadata struct {
	URL          string `json:"url"`
	Type         string `json:"type,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	HTML         string `json:"html,omitempty"`
}

// Size approximates the memory held by m.
func (m *Metadata) Size() int64 {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// NormalizeURL returns the cache key for rawURL: lower-cased scheme and host,
// default ports and fragments removed.
func NormalizeURL(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
