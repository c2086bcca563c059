//go:build !sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; full-text search uses LIKE matching on pages.body.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error {
	// Body is already stored in the pages table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// match performs a LIKE-based search and scores hits by where the term
// occurs: title 3, tags 2, description 1, plus body occurrences up to 5.
func (db *DB) match(ctx context.Context, q Query) ([]Result, int, error) {
	like := "%" + escapeLike(q.Q) + "%"
	var cond string
	var args []any
	switch q.Scope {
	case ScopeTitle:
		cond = `p.title LIKE ? ESCAPE '\'`
		args = []any{like}
	case ScopeContent:
		cond = `p.body LIKE ? ESCAPE '\'`
		args = []any{like}
	default:
		cond = `(p.title LIKE ? ESCAPE '\' OR p.description LIKE ? ESCAPE '\' OR p.tags LIKE ? ESCAPE '\' OR p.body LIKE ? ESCAPE '\')`
		args = []any{like, like, like, like}
	}
	filter, fargs := filterSQL(q)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.path, p.url_path, p.title, p.description, p.tags, p.body
		FROM pages p
		WHERE `+cond+filter, append(args, fargs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search: query: %w", err)
	}
	defer rows.Close()

	term := strings.ToLower(q.Q)
	var out []Result
	for rows.Next() {
		var (
			r          Result
			tags, body string
		)
		if err := rows.Scan(&r.Path, &r.URLPath, &r.Title, &r.Description, &tags, &body); err != nil {
			return nil, 0, err
		}
		_ = json.Unmarshal([]byte(tags), &r.Tags)
		if q.Scope != ScopeContent {
			if strings.Contains(strings.ToLower(r.Title), term) {
				r.Score += 3
			}
		}
		if q.Scope == ScopeAll {
			if strings.Contains(strings.ToLower(tags), term) {
				r.Score += 2
			}
			if strings.Contains(strings.ToLower(r.Description), term) {
				r.Score++
			}
		}
		if q.Scope != ScopeTitle {
			r.Score += float64(min(strings.Count(strings.ToLower(body), term), 5))
		}
		r.Snippet = makeSnippet(body, q.Q)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rank(out)
	total := len(out)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}
