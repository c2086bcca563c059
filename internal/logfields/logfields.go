// Package logfields defines canonical slog attributes used across marksite.
package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPath       = "path"
	KeyURLPath    = "url_path"
	KeyBuildID    = "build_id"
	KeyJobState   = "job_state"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyGeneration = "generation"
	KeyURL        = "url"
	KeyCount      = "count"
	KeyError      = "error"
)

func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func URLPath(u string) slog.Attr    { return slog.String(KeyURLPath, u) }
func BuildID(id string) slog.Attr   { return slog.String(KeyBuildID, id) }
func JobState(s string) slog.Attr   { return slog.String(KeyJobState, s) }
func Stage(name string) slog.Attr   { return slog.String(KeyStage, name) }
func Generation(g uint64) slog.Attr { return slog.Uint64(KeyGeneration, g) }
func URL(u string) slog.Attr        { return slog.String(KeyURL, u) }
func Count(n int) slog.Attr         { return slog.Int(KeyCount, n) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
