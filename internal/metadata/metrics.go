package metadata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors fed by the Recorder.
// Create it once per registry; recorders may share it.
type Metrics struct {
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	ErrorsTotal    *prometheus.CounterVec
	ArtifactsTotal *prometheus.CounterVec
	CrawlsTotal    prometheus.Counter
	CrawlPages     prometheus.Histogram
	CrawlDuration  prometheus.Histogram
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_archiver_fetches_total",
			Help: "The total number of HTTP fetches by status class",
		}, []string{"status_class"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "site_archiver_fetch_duration_seconds",
			Help:    "Duration of HTTP fetches including retries",
			Buckets: prometheus.DefBuckets,
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_archiver_errors_total",
			Help: "The total number of errors recorded",
		}, []string{"package", "cause"}),
		ArtifactsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_archiver_artifacts_total",
			Help: "The total number of archive artifacts written",
		}, []string{"kind"}),
		CrawlsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "site_archiver_crawls_total",
			Help: "The total number of completed crawls",
		}),
		CrawlPages: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "site_archiver_crawl_pages",
			Help:    "Pages archived per crawl",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CrawlDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "site_archiver_crawl_duration_seconds",
			Help:    "Wall-clock duration of crawls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func statusClass(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
