package scheduler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/site-archiver/internal/fetcher"
	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/internal/scheduler"
	"github.com/rohmanhakim/site-archiver/internal/storage"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rootPage = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/css/site.css">
<script src="https://cdn.example.org/lib.js"></script>
</head><body>
<img id="logo" src="/img/logo.png">
<img id="inline" src="data:image/png;base64,iVBORw0KGgo=">
<img id="missing" src="/missing.png">
<a href="/a">A</a>
<a href="/b">B</a>
<a href="/a#top">A again</a>
<a href="/a/">A with slash</a>
<a href="https://other.example.org/x">elsewhere</a>
<a href="mailto:someone@example.org">mail</a>
</body></html>`

func defaultRoutes() map[string]sitePage {
	return map[string]sitePage{
		"/":             {body: rootPage},
		"/a":            {body: `<html><body><a href="/">home</a><a href="/c">C</a><img src="/img/logo.png"></body></html>`},
		"/b":            {body: `<html><body><a href="/a">A</a><a href="/file.pdf">pdf</a></body></html>`},
		"/c":            {body: `<html><body><p>leaf</p></body></html>`},
		"/file.pdf":     {contentType: "application/pdf", body: "%PDF-1.4"},
		"/css/site.css": {contentType: "text/css", body: "body{color:red}"},
		"/img/logo.png": {contentType: "image/png", body: "PNGDATA"},
	}
}

func TestScheduler_Crawl_ArchivesSiteDepthFirst(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	finalizer := &mockFinalizer{}
	s := newTestScheduler(t, finalizer, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"/", "/a", "/c", "/b", "/file.pdf"}, site.pageOrder())
	assert.Equal(t, 4, execution.PagesArchived())
	assert.Equal(t, 4, execution.AssetsArchived())

	entries := unzip(t, execution.Archive())
	expected := []string{
		"html/index.html",
		"html/a/index.html",
		"html/b/index.html",
		"html/c/index.html",
		"css/css/site.css",
		"images/img/logo.png",
		"images/embedded_image_0.png",
	}
	assert.Len(t, entries, len(expected))
	for _, name := range expected {
		assert.Contains(t, entries, name)
	}
	assert.Equal(t, "PNGDATA", entries["images/img/logo.png"])
	assert.Equal(t, "body{color:red}", entries["css/css/site.css"])

	require.Len(t, execution.Warnings(), 2)
	assert.Equal(t, scheduler.WarningAssetFetch, execution.Warnings()[0].Kind)
	assert.True(t, strings.HasSuffix(execution.Warnings()[0].Reference, "/missing.png"))
	assert.Equal(t, scheduler.WarningPageFetch, execution.Warnings()[1].Kind)
	assert.True(t, strings.HasSuffix(execution.Warnings()[1].PageURL, "/file.pdf"))

	assert.Equal(t, 1, finalizer.calls)
	assert.Equal(t, 4, finalizer.recordedStats.totalPages)
	assert.Equal(t, 2, finalizer.recordedStats.totalErrors)
	assert.Equal(t, 4, finalizer.recordedStats.totalAssets)
}

func TestScheduler_Crawl_RewritesRootPage(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	execution, err := s.Crawl(context.Background(), site.server.URL, 1)
	require.NoError(t, err)

	entries := unzip(t, execution.Archive())
	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(entries["html/index.html"]))
	require.NoError(t, parseErr)

	assert.Equal(t, "../images/img/logo.png", doc.Find("img#logo").AttrOr("src", ""))
	assert.Equal(t, "../images/embedded_image_0.png", doc.Find("img#inline").AttrOr("src", ""))
	assert.Equal(t, "/missing.png", doc.Find("img#missing").AttrOr("src", ""))
	assert.Equal(t, "../css/css/site.css", doc.Find("link").AttrOr("href", ""))
	assert.Equal(t, "https://cdn.example.org/lib.js", doc.Find("script").AttrOr("src", ""))
}

func TestScheduler_Crawl_NoDanglingRewrites(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	execution, err := s.Crawl(context.Background(), site.server.URL, 10)
	require.NoError(t, err)

	entries := unzip(t, execution.Archive())
	for name, content := range entries {
		assert.False(t, strings.HasPrefix(name, "/"), name)
		assert.NotContains(t, strings.Split(name, "/"), "..", name)
		if !strings.HasPrefix(name, "html/") {
			continue
		}
		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(content))
		require.NoError(t, parseErr)
		doc.Find("img[src], link[href], script[src]").Each(func(_ int, sel *goquery.Selection) {
			value := sel.AttrOr("src", sel.AttrOr("href", ""))
			if strings.HasPrefix(value, "/") || strings.Contains(value, "://") || strings.HasPrefix(value, "data:") {
				return
			}
			target := path.Join(path.Dir(name), value)
			assert.Contains(t, entries, target, "%s references %q", name, value)
		})
	}
}

func TestScheduler_Crawl_BudgetOneArchivesOnlyRoot(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	execution, err := s.Crawl(context.Background(), site.server.URL, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, execution.PagesArchived())
	assert.Equal(t, 0, site.hitCount("/a"))
	assert.Equal(t, 0, site.hitCount("/b"))

	entries := unzip(t, execution.Archive())
	assert.Contains(t, entries, "html/index.html")
	assert.Contains(t, entries, "images/img/logo.png")
	assert.NotContains(t, entries, "html/a/index.html")
}

func TestScheduler_Crawl_BudgetBound(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	execution, err := s.Crawl(context.Background(), site.server.URL, 2)
	require.NoError(t, err)

	htmlEntries := 0
	for name := range unzip(t, execution.Archive()) {
		if strings.HasPrefix(name, "html/") {
			htmlEntries++
		}
	}
	assert.Equal(t, 2, htmlEntries)
	assert.Equal(t, 2, execution.PagesArchived())
	assert.Equal(t, 0, site.hitCount("/c"))
	assert.Equal(t, 0, site.hitCount("/b"))
}

func TestScheduler_Crawl_FetchesEachPageOnce(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	_, err := s.Crawl(context.Background(), site.server.URL, 10)
	require.NoError(t, err)

	for _, p := range []string{"/", "/a", "/b", "/c"} {
		assert.Equal(t, 1, site.hitCount(p), p)
	}
	assert.Equal(t, 0, site.hitCount("/a/"))
}

func TestScheduler_Crawl_RootFailureIsFatal(t *testing.T) {
	site := newTestSite(t, map[string]sitePage{})
	finalizer := &mockFinalizer{}
	spy := &errorSpy{}
	s := newTestScheduler(t, finalizer, spy)

	execution, err := s.Crawl(context.Background(), site.server.URL+"/", 5)

	require.Error(t, err)
	assert.Nil(t, execution.Archive())
	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseRootFetchFailure, crawlErr.Cause)
	assert.Equal(t, failure.SeverityFatal, crawlErr.Severity())

	var fetchErr *fetcher.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 404, fetchErr.StatusCode)

	assert.Equal(t, 1, finalizer.calls)
	assert.Equal(t, 0, finalizer.recordedStats.totalPages)
	assert.Equal(t, 1, finalizer.recordedStats.totalErrors)
	assert.Contains(t, spy.causes, metadata.CauseNetworkFailure)
}

func newForeignSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>FOREIGN</body></html>`))
	}))
	t.Cleanup(foreign.Close)
	return foreign, &hits
}

func TestScheduler_Crawl_OffSiteRedirectIsNotArchived(t *testing.T) {
	foreign, foreignHits := newForeignSite(t)
	site := newTestSite(t, map[string]sitePage{
		"/":   {body: `<html><body>HOME<a href="/go">go</a><a href="/b">B</a></body></html>`},
		"/go": {redirect: foreign.URL + "/"},
		"/b":  {body: `<html><body>B</body></html>`},
	})
	s := newTestScheduler(t, &mockFinalizer{}, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 5)
	require.NoError(t, err)

	assert.Equal(t, 2, execution.PagesArchived())
	assert.Equal(t, int32(0), foreignHits.Load())
	entries := unzip(t, execution.Archive())
	assert.Len(t, entries, 2)
	assert.Contains(t, entries["html/index.html"], "HOME")
	assert.NotContains(t, entries["html/index.html"], "FOREIGN")
	assert.Contains(t, entries, "html/b/index.html")

	require.Len(t, execution.Warnings(), 1)
	warning := execution.Warnings()[0]
	assert.Equal(t, scheduler.WarningPageFetch, warning.Kind)
	assert.True(t, strings.HasSuffix(warning.PageURL, "/go"))
	assert.Contains(t, warning.Message, "off-site")
}

func TestScheduler_Crawl_RootOffSiteRedirectIsFatal(t *testing.T) {
	foreign, foreignHits := newForeignSite(t)
	site := newTestSite(t, map[string]sitePage{
		"/": {redirect: foreign.URL + "/"},
	})
	s := newTestScheduler(t, &mockFinalizer{}, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 5)

	require.Error(t, err)
	assert.Nil(t, execution.Archive())
	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseRootFetchFailure, crawlErr.Cause)
	assert.Equal(t, int32(0), foreignHits.Load())
}

func TestScheduler_Crawl_RedirectToVisitedPageIsNotRefetched(t *testing.T) {
	site := newTestSite(t, map[string]sitePage{
		"/":    {body: `<html><body><a href="/old">old</a><a href="/b">B</a></body></html>`},
		"/old": {redirect: "/", status: http.StatusMovedPermanently},
		"/b":   {body: `<html><body>B</body></html>`},
	})
	finalizer := &mockFinalizer{}
	s := newTestScheduler(t, finalizer, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, site.hitCount("/"))
	assert.Equal(t, 1, site.hitCount("/old"))
	assert.Equal(t, 1, site.hitCount("/b"))
	assert.Equal(t, 2, execution.PagesArchived())
	entries := unzip(t, execution.Archive())
	assert.Len(t, entries, execution.PagesArchived())
	assert.Contains(t, entries, "html/index.html")
	assert.Contains(t, entries, "html/b/index.html")
	assert.Empty(t, execution.Warnings())
	assert.Equal(t, 2, finalizer.recordedStats.totalPages)
}

func TestScheduler_Crawl_FollowsSameDomainRedirects(t *testing.T) {
	site := newTestSite(t, map[string]sitePage{
		"/":              {body: `<html><body><a href="/moved">moved</a><a href="/docs">docs</a><a href="/new">new again</a></body></html>`},
		"/moved":         {redirect: "/new"},
		"/new":           {body: `<html><body>NEW<img src="logo.png"></body></html>`},
		"/docs":          {redirect: "/docs/", status: http.StatusMovedPermanently},
		"/docs/":         {body: `<html><body>DOCS<img src="logo.png"></body></html>`},
		"/logo.png":      {contentType: "image/png", body: "ROOTLOGO"},
		"/docs/logo.png": {contentType: "image/png", body: "DOCSLOGO"},
	})
	s := newTestScheduler(t, &mockFinalizer{}, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, execution.PagesArchived())
	assert.Equal(t, 1, site.hitCount("/new"))
	assert.Equal(t, 1, site.hitCount("/docs/"))
	entries := unzip(t, execution.Archive())
	assert.Contains(t, entries["html/new/index.html"], "NEW")
	assert.Contains(t, entries["html/docs/index.html"], "DOCS")
	assert.Equal(t, "DOCSLOGO", entries["images/docs/logo.png"], "assets resolve against the redirect target")
	assert.NotContains(t, entries, "html/moved/index.html")
	assert.Empty(t, execution.Warnings())
}

func TestScheduler_Crawl_RedirectLoopIsBounded(t *testing.T) {
	site := newTestSite(t, map[string]sitePage{
		"/":     {body: `<html><body><a href="/loop">loop</a></body></html>`},
		"/loop": {redirect: "/loop?again=1"},
	})
	s := newTestScheduler(t, &mockFinalizer{}, &metadata.NoopSink{})

	execution, err := s.Crawl(context.Background(), site.server.URL, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, execution.PagesArchived())
	require.Len(t, execution.Warnings(), 1)
	assert.Equal(t, scheduler.WarningPageFetch, execution.Warnings()[0].Kind)
	assert.Contains(t, execution.Warnings()[0].Message, "redirects")
}

func TestScheduler_Crawl_NonHTMLRootIsFatal(t *testing.T) {
	site := newTestSite(t, map[string]sitePage{
		"/": {contentType: "application/json", body: `{}`},
	})
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	_, err := s.Crawl(context.Background(), site.server.URL, 5)

	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseRootFetchFailure, crawlErr.Cause)
}

func TestScheduler_Crawl_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		startURL string
		budget   int
	}{
		{"zero budget", "https://example.com", 0},
		{"negative budget", "https://example.com", -3},
		{"not http", "ftp://example.com/file", 1},
		{"relative", "/just/a/path", 1},
		{"unparseable", "http://[::1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finalizer := &mockFinalizer{}
			s := newTestScheduler(t, finalizer, nil)

			_, err := s.Crawl(context.Background(), tt.startURL, tt.budget)

			var crawlErr *scheduler.CrawlError
			require.True(t, errors.As(err, &crawlErr))
			assert.Equal(t, scheduler.ErrCauseInvalidInput, crawlErr.Cause)
			assert.Equal(t, 1, finalizer.calls)
		})
	}
}

func TestScheduler_Crawl_CancelledBeforeStart(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	finalizer := &mockFinalizer{}
	s := newTestScheduler(t, finalizer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Crawl(ctx, site.server.URL, 5)

	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseCancelled, crawlErr.Cause)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, site.hitCount("/"))
	assert.Equal(t, 1, finalizer.calls)
}

func TestScheduler_Crawl_CancelledMidCrawl(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site.onHit = func(p string) {
		if p == "/a" {
			cancel()
		}
	}

	execution, err := s.Crawl(ctx, site.server.URL, 10)

	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseCancelled, crawlErr.Cause)
	assert.Nil(t, execution.Archive())
	assert.Equal(t, 0, site.hitCount("/c"))
}

func TestScheduler_Crawl_ArchiveFailureIsFatal(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	cfg := testConfig(t)
	httpFetcher := fetcher.NewHttpFetcher(nil, "", nil, cfg.Timeout(), cfg.MaxBodySize())
	s := scheduler.NewSchedulerWithDeps(cfg, nil, nil, httpFetcher, func() (storage.Archive, failure.ClassifiedError) {
		return nil, &storage.StorageError{
			Message:   "no space left",
			Retryable: false,
			Cause:     storage.ErrCauseSpoolFailure,
			Path:      "/tmp/spool",
		}
	})

	_, err := s.Crawl(context.Background(), site.server.URL, 3)

	var crawlErr *scheduler.CrawlError
	require.True(t, errors.As(err, &crawlErr))
	assert.Equal(t, scheduler.ErrCauseArchiveFailure, crawlErr.Cause)
	var storageErr *storage.StorageError
	assert.True(t, errors.As(err, &storageErr))
	assert.Equal(t, 0, site.hitCount("/"))
}

func TestScheduler_Crawl_ConcurrentCrawlsAreIndependent(t *testing.T) {
	site := newTestSite(t, defaultRoutes())
	s := newTestScheduler(t, &mockFinalizer{}, nil)

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			execution, err := s.Crawl(context.Background(), site.server.URL, 10)
			if err != nil {
				results <- -1
				return
			}
			results <- execution.PagesArchived()
		}()
	}
	assert.Equal(t, 4, <-results)
	assert.Equal(t, 4, <-results)
}
