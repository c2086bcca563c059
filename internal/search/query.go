package search

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/net/html"
)

// Scope restricts which columns a query matches.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Query is the body of a search request.
type Query struct {
	Q        string `json:"q"`
	Limit    int    `json:"limit,omitempty"`
	Scope    Scope  `json:"scope,omitempty"`
	Filetype string `json:"filetype,omitempty"`
	Folder   string `json:"folder,omitempty"`
}

// Validate checks the query with ozzo-validation.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Q, validation.Required, validation.Length(1, 256)),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(MaxLimit)),
		validation.Field(&q.Scope, validation.In(ScopeAll, ScopeTitle, ScopeContent)),
	)
}

func (q Query) normalized() Query {
	q.Q = strings.TrimSpace(q.Q)
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Scope == "" {
		q.Scope = ScopeAll
	}
	if ft := strings.ToLower(strings.TrimSpace(q.Filetype)); ft != "" && !strings.HasPrefix(ft, ".") {
		q.Filetype = "." + ft
	} else {
		q.Filetype = ft
	}
	if f := strings.Trim(q.Folder, "/ "); f != "" {
		q.Folder = path.Clean(f) + "/"
	} else {
		q.Folder = ""
	}
	return q
}

// Result is one search hit.
type Result struct {
	Path        string   `json:"-"`
	URLPath     string   `json:"url_path"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Score       float64  `json:"score"`
	Snippet     string   `json:"snippet"`
}

// Response is the search endpoint payload.
type Response struct {
	Query        string   `json:"query"`
	TotalMatches int      `json:"total_matches"`
	Results      []Result `json:"results"`
	DurationMS   float64  `json:"duration_ms"`
}

// Search runs q against the index.
func (db *DB) Search(ctx context.Context, q Query) (*Response, error) {
	q.Q = strings.TrimSpace(q.Q)
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("search: invalid query: %w", err)
	}
	start := time.Now()
	q = q.normalized()
	results, total, err := db.match(ctx, q)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Result{}
	}
	for i := range results {
		if results[i].Tags == nil {
			results[i].Tags = []string{}
		}
	}
	return &Response{
		Query:        q.Q,
		TotalMatches: total,
		Results:      results,
		DurationMS:   float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// filterSQL returns the filetype and folder conditions on the pages table
// aliased p.
func filterSQL(q Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.Filetype != "" {
		where = append(where, "p.ext = ?")
		args = append(args, q.Filetype)
	}
	if q.Folder != "" {
		where = append(where, `p.path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(q.Folder)+"%")
	}
	if len(where) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(where, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// rank orders results by score, then url path.
func rank(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].URLPath < rs[j].URLPath
	})
}

const snippetRadius = 80

// makeSnippet returns the text around the first case-insensitive occurrence
// of term in body, with the match wrapped in <mark>. The body text is
// HTML-escaped; only the mark tags are markup.
func makeSnippet(body, term string) string {
	body = strings.Join(strings.Fields(body), " ")
	lower := strings.ToLower(body)
	i := strings.Index(lower, strings.ToLower(term))
	if term == "" || i < 0 || len(lower) != len(body) {
		return html.EscapeString(truncate(body, 2*snippetRadius))
	}
	from := max(0, i-snippetRadius)
	to := min(len(body), i+len(term)+snippetRadius)
	for from > 0 && !utf8.RuneStart(body[from]) {
		from--
	}
	for to < len(body) && !utf8.RuneStart(body[to]) {
		to++
	}
	var b strings.Builder
	if from > 0 {
		b.WriteString("…")
	}
	b.WriteString(html.EscapeString(body[from:i]))
	b.WriteString("<mark>")
	b.WriteString(html.EscapeString(body[i : i+len(term)]))
	b.WriteString("</mark>")
	b.WriteString(html.EscapeString(body[i+len(term) : to]))
	if to < len(body) {
		b.WriteString("…")
	}
	return b.String()
}

const (
	markOpen  = "\x02"
	markClose = "\x03"
)

// markSnippet escapes a snippet whose matches sqlite delimited with
// markOpen and markClose, then turns the delimiters into mark tags.
func markSnippet(s string) string {
	s = html.EscapeString(s)
	s = strings.ReplaceAll(s, markOpen, "<mark>")
	return strings.ReplaceAll(s, markClose, "</mark>")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
