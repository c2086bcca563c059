package build

import (
	"time"

	"github.com/starford/marksite/internal/linkgraph"
)

// JobState is the lifecycle of one page job.
type JobState int

const (
	Pending JobState = iota
	Rendering
	Written
	Failed
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Rendering:
		return "rendering"
	case Written:
		return "written"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s JobState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// JobResult is the final state of one page job.
type JobResult struct {
	Path    string   `json:"path"`
	URLPath string   `json:"url_path"`
	Output  string   `json:"output,omitempty"`
	State   JobState `json:"state"`
	Error   string   `json:"error,omitempty"`
}

// Outcome is the typed final state of a build.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Report summarizes one build run.
type Report struct {
	ID             string                   `json:"build_id"`
	Start          time.Time                `json:"start"`
	End            time.Time                `json:"end"`
	Generation     uint64                   `json:"generation"`
	Jobs           []JobResult              `json:"jobs"`
	Listings       int                      `json:"listings"`
	TagPages       int                      `json:"tag_pages"`
	Assets         int                      `json:"assets"`
	LinkDocs       int                      `json:"link_docs"`
	BrokenLinks    []linkgraph.BrokenLink   `json:"broken_links,omitempty"`
	Warnings       []string                 `json:"warnings,omitempty"`
	StageDurations map[string]time.Duration `json:"-"`
	Outcome        Outcome                  `json:"outcome"`
	Published      bool                     `json:"published"`
}

func newReport(id string) *Report {
	return &Report{
		ID:             id,
		Start:          time.Now(),
		StageDurations: make(map[string]time.Duration),
	}
}

// Succeeded returns the number of pages written.
func (r *Report) Succeeded() int { return r.count(Written) }

// Failed returns the number of pages that failed to render or write.
func (r *Report) Failed() int { return r.count(Failed) }

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.End.Sub(r.Start) }

func (r *Report) count(s JobState) int {
	n := 0
	for _, j := range r.Jobs {
		if j.State == s {
			n++
		}
	}
	return n
}

func (r *Report) warn(msg string) { r.Warnings = append(r.Warnings, msg) }

func (r *Report) finish(canceled bool) {
	r.End = time.Now()
	switch {
	case canceled:
		r.Outcome = OutcomeCanceled
	case r.Failed() == 0:
		r.Outcome = OutcomeSuccess
	case r.Succeeded() == 0:
		r.Outcome = OutcomeFailed
	default:
		r.Outcome = OutcomePartial
	}
}
