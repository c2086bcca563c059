package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveScan(20*time.Millisecond, 12)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncJobResult("page", ResultWritten)
	pr.IncBuildOutcome("success")
	pr.IncOembed(ResultHit)
	pr.SetOembedBytes(2048)
	pr.ObserveRender(3 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "marksite_build_jobs_total") {
		t.Errorf("scrape missing job counter:\n%s", rec.Body.String())
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveScan(time.Second, 1)
	r.IncOembed(ResultMiss)
}
