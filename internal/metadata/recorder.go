package metadata

import (
	"time"

	"go.uber.org/zap"
)

/*
Metadata Collected
- Fetch timestamps, status codes and durations
- Archive paths and content hashes
- Error causes per package

Metadata is write-only.
No component may read metadata to influence crawl decisions.
*/

/*
Recorder captures structured crawl events and forwards them to a zap logger
and, when configured, to Prometheus collectors.
It must not:
- perform I/O decisions
- affect control flow
Ordering guarantees:
  - Events from a single goroutine are logged in the order received.
  - Intra-page asset fetches run concurrently, so no global ordering is guaranteed.
*/
type Recorder struct {
	workerId string
	logger   *zap.Logger
	metrics  *Metrics
}

// NewRecorder builds a Recorder. A nil logger discards log output and nil
// metrics disables metric collection.
func NewRecorder(workerId string, logger *zap.Logger, metrics *Metrics) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		workerId: workerId,
		logger:   logger.With(zap.String("worker_id", workerId)),
		metrics:  metrics,
	}
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	record := ErrorRecord{
		packageName: packageName,
		action:      action,
		cause:       cause,
		errorString: errorString,
		observedAt:  observedAt,
		attrs:       attrs,
	}
	r.logger.Warn("crawl error", record.fields()...)

	if r.metrics != nil {
		r.metrics.ErrorsTotal.WithLabelValues(packageName, cause.String()).Inc()
	}
}

func (r *Recorder) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	event := FetchEvent{
		fetchUrl:    fetchUrl,
		httpStatus:  httpStatus,
		duration:    duration,
		contentType: contentType,
		retryCount:  retryCount,
		crawlDepth:  crawlDepth,
	}
	r.logger.Debug("fetch", event.fields()...)

	if r.metrics != nil {
		r.metrics.FetchesTotal.WithLabelValues(statusClass(httpStatus)).Inc()
		r.metrics.FetchDuration.Observe(duration.Seconds())
	}
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	fields := make([]zap.Field, 0, len(attrs)+2)
	fields = append(fields, zap.String("kind", string(kind)), zap.String("path", path))
	fields = append(fields, attrFields(attrs)...)
	r.logger.Debug("artifact", fields...)

	if r.metrics != nil {
		r.metrics.ArtifactsTotal.WithLabelValues(string(kind)).Inc()
	}
}

/*
RecordFinalCrawlStats records a terminal, derived summary of a completed crawl.

Contract:
  - MUST be called exactly once per crawl execution, after termination
    (stack exhausted, budget reached or abort).
  - The provided stats MUST be derived from scheduler state,
    not accumulated incrementally via the recorder.
*/
func (r *Recorder) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	duration time.Duration,
) {
	stats := crawlStats{
		totalPages:  totalPages,
		totalErrors: totalErrors,
		totalAssets: totalAssets,
		durationMs:  duration.Milliseconds(),
	}
	r.logger.Info("crawl finished",
		zap.Int("total_pages", stats.totalPages),
		zap.Int("total_errors", stats.totalErrors),
		zap.Int("total_assets", stats.totalAssets),
		zap.Int64("duration_ms", stats.durationMs),
	)

	if r.metrics != nil {
		r.metrics.CrawlsTotal.Inc()
		r.metrics.CrawlPages.Observe(float64(stats.totalPages))
		r.metrics.CrawlDuration.Observe(duration.Seconds())
	}
}

func (e ErrorRecord) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("package", e.packageName),
		zap.String("action", e.action),
		zap.Stringer("cause", e.cause),
		zap.String("error", e.errorString),
		zap.Time("observed_at", e.observedAt),
	}
	return append(fields, attrFields(e.attrs)...)
}

func (f FetchEvent) fields() []zap.Field {
	return []zap.Field{
		zap.String("url", f.fetchUrl),
		zap.Int("http_status", f.httpStatus),
		zap.Duration("duration", f.duration),
		zap.String("content_type", f.contentType),
		zap.Int("retry_count", f.retryCount),
		zap.Int("crawl_depth", f.crawlDepth),
	}
}

func attrFields(attrs []Attribute) []zap.Field {
	fields := make([]zap.Field, 0, len(attrs))
	for _, attr := range attrs {
		fields = append(fields, zap.String(string(attr.Key), attr.Value))
	}
	return fields
}

type MetadataSink interface {
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		details string,
		attrs []Attribute,
	)

	RecordFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		retryCount int,
		crawlDepth int,
	)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

type CrawlFinalizer interface {
	RecordFinalCrawlStats(
		totalPages int,
		totalErrors int,
		totalAssets int,
		duration time.Duration,
	)
}

// NoopSink implements MetadataSink and CrawlFinalizer but does nothing.
// Scheduler (or test) decides whether to inject a Recorder or a NoopSink.
type NoopSink struct{}

func (n *NoopSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
}

func (n *NoopSink) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
}

func (n *NoopSink) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {}

func (n *NoopSink) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	duration time.Duration,
) {
}
