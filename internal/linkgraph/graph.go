package linkgraph

import (
	"sort"

	"github.com/starford/marksite/internal/models"
)

// Collector accumulates outbound links per page during the render stage.
// It is filled from a single goroutine after each job completes.
type Collector struct {
	outbound map[string][]models.LinkRecord
}

func NewCollector() *Collector {
	return &Collector{outbound: make(map[string][]models.LinkRecord)}
}

// Add records the outbound links of page from, replacing earlier ones.
func (c *Collector) Add(from string, links []models.LinkRecord) {
	c.outbound[from] = links
}

// Freeze ends the collection stage and builds the inverted index. The
// collector is empty afterwards.
func (c *Collector) Freeze() *Graph {
	g := &Graph{
		outbound: c.outbound,
		inbound:  make(map[string][]models.LinkRecord),
	}
	c.outbound = make(map[string][]models.LinkRecord)

	for _, recs := range g.outbound {
		for _, r := range recs {
			if r.Internal {
				g.inbound[r.To] = append(g.inbound[r.To], r)
			}
		}
	}
	for _, recs := range g.inbound {
		sortRecords(recs)
	}
	return g
}

// Graph is the frozen link graph of a build. Every internal record in
// Outbound(a) with target b appears in Inbound(b).
type Graph struct {
	outbound map[string][]models.LinkRecord
	inbound  map[string][]models.LinkRecord
}

func (g *Graph) Outbound(page string) []models.LinkRecord { return g.outbound[page] }
func (g *Graph) Inbound(page string) []models.LinkRecord  { return g.inbound[page] }

// Pages returns every page with recorded outbound links, sorted.
func (g *Graph) Pages() []string {
	out := make([]string, 0, len(g.outbound))
	for p := range g.outbound {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// BrokenLink is an internal link whose target is not part of the site.
type BrokenLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Text   string `json:"text,omitempty"`
}

// Broken returns internal links whose target known rejects, ordered by
// source then target.
func (g *Graph) Broken(known func(urlPath string) bool) []BrokenLink {
	var out []BrokenLink
	for _, page := range g.Pages() {
		seen := make(map[string]struct{})
		for _, r := range g.outbound[page] {
			if !r.Internal || known(r.To) {
				continue
			}
			if _, dup := seen[r.To]; dup {
				continue
			}
			seen[r.To] = struct{}{}
			out = append(out, BrokenLink{Source: r.From, Target: r.To, Text: r.Text})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Document is the links.json payload of one page.
type Document struct {
	Inbound  []InboundLink  `json:"inbound"`
	Outbound []OutboundLink `json:"outbound"`
}

type InboundLink struct {
	From   string `json:"from"`
	Text   string `json:"text"`
	Anchor string `json:"anchor,omitempty"`
}

type OutboundLink struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	Anchor   string `json:"anchor,omitempty"`
	Internal bool   `json:"internal"`
}

// NewDocument builds a links.json payload from raw records.
func NewDocument(inbound, outbound []models.LinkRecord) Document {
	doc := Document{
		Inbound:  make([]InboundLink, 0, len(inbound)),
		Outbound: make([]OutboundLink, 0, len(outbound)),
	}
	for _, r := range inbound {
		doc.Inbound = append(doc.Inbound, InboundLink{From: r.From, Text: r.Text, Anchor: r.Anchor})
	}
	for _, r := range outbound {
		doc.Outbound = append(doc.Outbound, OutboundLink{To: r.To, Text: r.Text, Anchor: r.Anchor, Internal: r.Internal})
	}
	return doc
}

// Document returns the links.json payload for page.
func (g *Graph) Document(page string) Document {
	return NewDocument(g.inbound[page], g.outbound[page])
}

func sortRecords(recs []models.LinkRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].From != recs[j].From {
			return recs[i].From < recs[j].From
		}
		return recs[i].Text < recs[j].Text
	})
}
