package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marksite"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	scanDuration   prom.Histogram
	scanFiles      prom.Gauge
	buildDuration  prom.Histogram
	jobResults     *prom.CounterVec
	buildOutcome   *prom.CounterVec
	oembedLookups  *prom.CounterVec
	oembedBytes    prom.Gauge
	renderDuration prom.Histogram
}

// NewPrometheusRecorder constructs and registers marksite metrics on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		scanDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of full repository scans",
			Buckets:   prom.DefBuckets,
		}),
		scanFiles: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "index_files",
			Help:      "Markdown files in the current site index",
		}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total static build duration",
			Buckets:   prom.DefBuckets,
		}),
		jobResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_jobs_total",
			Help:      "Build job results by kind and outcome",
		}, []string{"kind", "result"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		oembedLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "oembed_lookups_total",
			Help:      "Oembed cache lookups by result",
		}, []string{"result"}),
		oembedBytes: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "oembed_cache_bytes",
			Help:      "Bytes held by the oembed cache",
		}),
		renderDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of single page renders",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.scanDuration, pr.scanFiles, pr.buildDuration, pr.jobResults,
		pr.buildOutcome, pr.oembedLookups, pr.oembedBytes, pr.renderDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveScan(d time.Duration, files int) {
	if p == nil {
		return
	}
	p.scanDuration.Observe(d.Seconds())
	p.scanFiles.Set(float64(files))
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobResult(kind string, result ResultLabel) {
	if p == nil {
		return
	}
	p.jobResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncOembed(result ResultLabel) {
	if p == nil {
		return
	}
	p.oembedLookups.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetOembedBytes(n int64) {
	if p == nil {
		return
	}
	p.oembedBytes.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRender(d time.Duration) {
	if p == nil {
		return
	}
	p.renderDuration.Observe(d.Seconds())
}

// HTTPHandler returns an http.Handler that serves metrics for the provided gatherer.
func HTTPHandler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
