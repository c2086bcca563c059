//go:build sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, path, title, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM pages_fts WHERE path = ?`, path)
	_, err := tx.Exec(`INSERT INTO pages_fts (path, title, body, tags) VALUES (?, ?, ?, ?)`,
		path, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("search: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM pages_fts WHERE path = ?`, path)
}

// matchExpr quotes every term so user input never reaches the FTS5 query
// syntax, then applies the scope as a column filter.
func matchExpr(q Query) string {
	fields := strings.Fields(q.Q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	expr := strings.Join(terms, " ")
	switch q.Scope {
	case ScopeTitle:
		return "{title} : (" + expr + ")"
	case ScopeContent:
		return "{body} : (" + expr + ")"
	}
	return expr
}

// match performs an FTS5 search ranked by bm25 with title and tags weighted
// above the body.
func (db *DB) match(ctx context.Context, q Query) ([]Result, int, error) {
	expr := matchExpr(q)
	filter, fargs := filterSQL(q)

	var total int
	countArgs := append([]any{expr}, fargs...)
	if err := db.conn.QueryRowContext(ctx, `
		SELECT count(*)
		FROM pages_fts JOIN pages p ON p.path = pages_fts.path
		WHERE pages_fts MATCH ?`+filter, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search: count: %w", err)
	}

	args := append(append([]any{expr}, fargs...), q.Limit)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.path,
		       p.url_path,
		       p.title,
		       p.description,
		       p.tags,
		       -bm25(pages_fts, 0.0, 5.0, 1.0, 2.0) AS score,
		       snippet(pages_fts, 2, char(2), char(3), '…', 24)
		FROM pages_fts JOIN pages p ON p.path = pages_fts.path
		WHERE pages_fts MATCH ?`+filter+`
		ORDER BY score DESC, p.url_path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search: query: %w", err)
	}
	out, err := scanResults(rows)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Snippet = markSnippet(out[i].Snippet)
	}
	return out, total, nil
}
