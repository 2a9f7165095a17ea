package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/rohmanhakim/site-archiver/internal/scheduler"
	"github.com/rohmanhakim/site-archiver/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCrawler records calls and replays a canned outcome
type fakeCrawler struct {
	mu        sync.Mutex
	calls     []crawlCall
	execution scheduler.CrawlingExecution
	err       error
	// block makes Crawl wait for cancellation
	block     bool
	cancelled chan struct{}
}

type crawlCall struct {
	startURL   string
	pageBudget int
}

func (f *fakeCrawler) Crawl(ctx context.Context, startURL string, pageBudget int) (scheduler.CrawlingExecution, error) {
	f.mu.Lock()
	f.calls = append(f.calls, crawlCall{startURL: startURL, pageBudget: pageBudget})
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		close(f.cancelled)
		return scheduler.CrawlingExecution{}, ctx.Err()
	}
	return f.execution, f.err
}

func (f *fakeCrawler) lastCall(t *testing.T) crawlCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestServer(t *testing.T, crawler server.Crawler) *httptest.Server {
	t.Helper()
	cfg, err := config.WithDefault().WithMaxPages(7).Build()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "site_archiver_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	srv := server.NewServer(cfg, crawler, registry, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postForm(t *testing.T, ts *httptest.Server, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/", form)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServer_Index_ServesForm(t *testing.T) {
	ts := newTestServer(t, &fakeCrawler{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body := readBody(t, resp)
	assert.Contains(t, body, `<form method="post"`)
	assert.Contains(t, body, `name="url"`)
	assert.Contains(t, body, `value="7"`)
}

func TestServer_Archive_ReturnsZipAttachment(t *testing.T) {
	crawler := &fakeCrawler{
		execution: scheduler.NewCrawlingExecutionForTest(
			[]byte("PK-zip-bytes"),
			[]scheduler.Warning{{Kind: scheduler.WarningAssetFetch}},
			3,
			5,
		),
	}
	ts := newTestServer(t, crawler)

	resp := postForm(t, ts, url.Values{"url": {"https://example.com"}, "max_pages": {"3"}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="website_assets.zip"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "3", resp.Header.Get("X-Crawl-Pages"))
	assert.Equal(t, "1", resp.Header.Get("X-Crawl-Warnings"))
	assert.Equal(t, "PK-zip-bytes", readBody(t, resp))
	assert.Equal(t, crawlCall{startURL: "https://example.com", pageBudget: 3}, crawler.lastCall(t))
}

func TestServer_Archive_DefaultBudget(t *testing.T) {
	crawler := &fakeCrawler{execution: scheduler.NewCrawlingExecutionForTest([]byte("zip"), nil, 1, 0)}
	ts := newTestServer(t, crawler)

	resp := postForm(t, ts, url.Values{"url": {" https://example.com/docs "}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, crawlCall{startURL: "https://example.com/docs", pageBudget: 7}, crawler.lastCall(t))
}

func TestServer_Archive_CrawlFailure(t *testing.T) {
	crawler := &fakeCrawler{err: &scheduler.CrawlError{
		Message: "404",
		Cause:   scheduler.ErrCauseRootFetchFailure,
	}}
	ts := newTestServer(t, crawler)

	resp := postForm(t, ts, url.Values{"url": {"https://example.com/nope"}})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Error downloading assets. Please check the URL and try again.", readBody(t, resp))
}

func TestServer_Archive_InvalidMaxPages(t *testing.T) {
	for _, raw := range []string{"zero", "0", "-2"} {
		t.Run(raw, func(t *testing.T) {
			crawler := &fakeCrawler{}
			ts := newTestServer(t, crawler)

			resp := postForm(t, ts, url.Values{"url": {"https://example.com"}, "max_pages": {raw}})

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, readBody(t, resp), "max_pages")
			assert.Empty(t, crawler.calls)
		})
	}
}

func TestServer_Archive_ClientDisconnectCancelsCrawl(t *testing.T) {
	crawler := &fakeCrawler{block: true, cancelled: make(chan struct{})}
	ts := newTestServer(t, crawler)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/",
		strings.NewReader(url.Values{"url": {"https://example.com"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	done := make(chan error, 1)
	go func() {
		resp, doErr := http.DefaultClient.Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		done <- doErr
	}()

	require.Eventually(t, func() bool {
		crawler.mu.Lock()
		defer crawler.mu.Unlock()
		return len(crawler.calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-crawler.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("crawl was not cancelled after client disconnect")
	}
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeCrawler{})

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, health))

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	assert.Contains(t, readBody(t, metrics), "site_archiver_test_total 1")
}

func TestServer_UnknownRoutes(t *testing.T) {
	ts := newTestServer(t, &fakeCrawler{})

	resp, err := http.Get(ts.URL + "/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	cfg, err := config.WithDefault().WithListenAddr("127.0.0.1:0").Build()
	require.NoError(t, err)
	srv := server.NewServer(cfg, &fakeCrawler{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.ErrorIs(t, srv.Start(), http.ErrServerClosed)
}

func TestServer_ShutdownWhileStarting(t *testing.T) {
	cfg, err := config.WithDefault().WithListenAddr("127.0.0.1:0").Build()
	require.NoError(t, err)
	srv := server.NewServer(cfg, &fakeCrawler{}, nil, nil)

	started := make(chan error, 1)
	go func() {
		started <- srv.Start()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case startErr := <-started:
		assert.ErrorIs(t, startErr, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
