package search

import (
	"context"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/parser"
	"github.com/starford/marksite/internal/site"
)

// SyncStats reports what one Sync changed.
type SyncStats struct {
	Indexed   int
	Unchanged int
	Removed   int
}

// Sync brings the index up to date with a snapshot:
//   - new/changed pages are read and upserted
//   - pages gone from the snapshot are deleted from the index
func Sync(ctx context.Context, db *DB, idx *site.Index, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats
	stamps, err := db.AllChecksums(ctx)
	if err != nil {
		return stats, err
	}

	present := make(map[string]struct{}, len(idx.Files))
	for _, f := range idx.SortedFiles() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		present[f.Path] = struct{}{}
		if stamps[f.Path] == stamp(f) {
			stats.Unchanged++
			continue
		}
		data, err := os.ReadFile(idx.Abs(f.Path))
		if err != nil {
			logger.Warn("search: read failed", logfields.Path(f.Path), logfields.Error(err))
			continue
		}
		if err := indexPage(ctx, db, idx, f, data); err != nil {
			logger.Warn("search: index failed", logfields.Path(f.Path), logfields.Error(err))
			continue
		}
		stats.Indexed++
		logger.Debug("search: indexed", logfields.Path(f.Path))
	}

	for p := range stamps {
		if _, ok := present[p]; ok {
			continue
		}
		if err := db.DeletePage(ctx, p); err != nil {
			logger.Warn("search: delete failed", logfields.Path(p), logfields.Error(err))
			continue
		}
		stats.Removed++
		logger.Debug("search: removed stale", logfields.Path(p))
	}

	logger.Info("search: synced",
		logfields.Generation(idx.Generation),
		slog.Int("indexed", stats.Indexed),
		slog.Int("removed", stats.Removed))
	return stats, nil
}

// stamp changes whenever the stored row would: content or assigned url.
func stamp(f *models.FileMetadata) string {
	return f.Checksum + " " + f.URLPath
}

func indexPage(ctx context.Context, db *DB, idx *site.Index, f *models.FileMetadata, data []byte) error {
	body := parser.Extract(data, nil).Body
	row := PageRow{
		Path:        f.Path,
		URLPath:     f.URLPath,
		Title:       f.Title,
		Description: f.Description,
		Checksum:    stamp(f),
		Tags:        displayTags(idx, f),
		Ext:         strings.ToLower(path.Ext(f.Path)),
		UpdatedAt:   f.ModTime,
	}
	return db.UpsertPage(ctx, row, string(body))
}

// displayTags flattens the page's tags across sources, in source order.
func displayTags(idx *site.Index, f *models.FileMetadata) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, src := range idx.Sources() {
		for _, t := range f.Tags[src.ID] {
			if _, ok := seen[t.Display]; ok {
				continue
			}
			seen[t.Display] = struct{}{}
			out = append(out, t.Display)
		}
	}
	return out
}
