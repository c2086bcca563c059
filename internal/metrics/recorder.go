// Package metrics provides observability hooks for scans, builds and the
// oembed cache. Components default to NoopRecorder; the server swaps in a
// PrometheusRecorder when metrics are enabled.
package metrics

import "time"

// ResultLabel enumerates job and lookup result categories for counters.
type ResultLabel string

const (
	ResultWritten ResultLabel = "written"
	ResultFailed  ResultLabel = "failed"
	ResultHit     ResultLabel = "hit"
	ResultMiss    ResultLabel = "miss"
	ResultError   ResultLabel = "error"
	ResultEvicted ResultLabel = "evicted"
)

// Recorder defines observability hooks for the pipeline.
type Recorder interface {
	ObserveScan(d time.Duration, files int)
	ObserveBuildDuration(d time.Duration)
	IncJobResult(kind string, result ResultLabel)
	IncBuildOutcome(outcome string) // outcome: success|partial|failed|canceled
	IncOembed(result ResultLabel)
	SetOembedBytes(n int64)
	ObserveRender(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveScan(time.Duration, int)     {}
func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) IncJobResult(string, ResultLabel)   {}
func (NoopRecorder) IncBuildOutcome(string)             {}
func (NoopRecorder) IncOembed(ResultLabel)              {}
func (NoopRecorder) SetOembedBytes(int64)               {}
func (NoopRecorder) ObserveRender(time.Duration)        {}
