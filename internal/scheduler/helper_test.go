package scheduler_test

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/rohmanhakim/site-archiver/internal/fetcher"
	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/internal/scheduler"
	"github.com/stretchr/testify/require"
)

// mockFinalizer is a test double that captures final crawl statistics
type mockFinalizer struct {
	mu            sync.Mutex
	calls         int
	recordedStats capturedStats
}

type capturedStats struct {
	totalPages  int
	totalErrors int
	totalAssets int
	duration    time.Duration
}

func (m *mockFinalizer) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	duration time.Duration,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.recordedStats = capturedStats{
		totalPages:  totalPages,
		totalErrors: totalErrors,
		totalAssets: totalAssets,
		duration:    duration,
	}
}

// errorSpy captures recorded error causes
type errorSpy struct {
	metadata.NoopSink
	mu     sync.Mutex
	causes []metadata.ErrorCause
}

func (s *errorSpy) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause metadata.ErrorCause,
	errorString string,
	attrs []metadata.Attribute,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causes = append(s.causes, cause)
}

// testSite serves a small fixed site and counts requests per path.
type testSite struct {
	server *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	pages  []string
	onHit  func(path string)
}

type sitePage struct {
	contentType string
	status      int
	body        string
	// redirect answers with a 302 (or status, when set) to this location
	redirect string
}

func newTestSite(t *testing.T, routes map[string]sitePage) *testSite {
	t.Helper()
	site := &testSite{hits: make(map[string]int)}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		route, ok := routes[r.URL.Path]
		if ok && route.redirect == "" && (route.contentType == "" || route.contentType == "text/html" || route.contentType == "application/pdf") {
			site.pages = append(site.pages, r.URL.Path)
		}
		onHit := site.onHit
		site.mu.Unlock()

		if onHit != nil {
			onHit(r.URL.Path)
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		if route.redirect != "" {
			status := route.status
			if status == 0 {
				status = http.StatusFound
			}
			http.Redirect(w, r, route.redirect, status)
			return
		}
		contentType := route.contentType
		if contentType == "" {
			contentType = "text/html"
		}
		w.Header().Set("Content-Type", contentType)
		status := route.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(route.body))
	}))
	t.Cleanup(site.server.Close)
	return site
}

func (s *testSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *testSite) pageOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pages...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.WithDefault().
		WithJitter(0).
		WithRandomSeed(42).
		WithMaxAttempt(1).
		WithBackoffInitialDuration(time.Millisecond).
		WithBackoffMaxDuration(5 * time.Millisecond).
		WithTimeout(5 * time.Second).
		WithConcurrency(2).
		WithSpoolDir(t.TempDir()).
		Build()
	require.NoError(t, err)
	return cfg
}

func newTestScheduler(t *testing.T, finalizer *mockFinalizer, sink metadata.MetadataSink) *scheduler.Scheduler {
	t.Helper()
	cfg := testConfig(t)
	httpFetcher := fetcher.NewHttpFetcher(sink, "site-archiver-test", nil, cfg.Timeout(), cfg.MaxBodySize())
	s := scheduler.NewSchedulerWithDeps(cfg, finalizer, sink, httpFetcher, nil)
	return &s
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, openErr := f.Open()
		require.NoError(t, openErr)
		content, readErr := io.ReadAll(rc)
		require.NoError(t, readErr)
		require.NoError(t, rc.Close())
		out[f.Name] = string(content)
	}
	return out
}
