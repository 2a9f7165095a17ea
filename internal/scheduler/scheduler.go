package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohmanhakim/site-archiver/internal/assets"
	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/rohmanhakim/site-archiver/internal/extractor"
	"github.com/rohmanhakim/site-archiver/internal/fetcher"
	"github.com/rohmanhakim/site-archiver/internal/frontier"
	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/internal/storage"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/rohmanhakim/site-archiver/pkg/retry"
	"github.com/rohmanhakim/site-archiver/pkg/timeutil"
	"github.com/rohmanhakim/site-archiver/pkg/urlutil"
	"go.uber.org/zap"
)

/*
 Scheduler is the sole control-plane authority of the crawl.

 Traversal guarantees:
 - Pages are visited depth-first in document order, one at a time.
 - A URL enters the visited set before it is fetched and is never
   fetched twice as a page.
 - Only pages on the root's host[:port] are fetched as pages. Redirects
   are walked hop by hop under the same scope and visited rules.
 - At most pageBudget pages are archived.

 Pipeline stages may detect and classify failure, but must never decide
 continuation or abortion. The scheduler is the sole authority on:
	- skip (warning)
	- abort (CrawlError)

 Metadata emission is observational only and MUST NOT influence
 scheduling, retries, or crawl termination.

 A Scheduler holds no per-crawl state; every Crawl call owns a fresh
 session, so one Scheduler may serve concurrent crawls.
*/

// maxPageRedirects bounds one page's redirect chain.
const maxPageRedirects = 10

// ArchiveFactory creates the archive a single crawl writes into.
type ArchiveFactory func() (storage.Archive, failure.ClassifiedError)

type Scheduler struct {
	metadataSink   metadata.MetadataSink
	crawlFinalizer metadata.CrawlFinalizer
	htmlFetcher    fetcher.Fetcher
	domExtractor   extractor.DomExtractor
	assetResolver  assets.Resolver
	newArchive     ArchiveFactory
	retryParam     retry.RetryParam
	concurrency    int
}

// NewScheduler wires the production pipeline: a zap and Prometheus backed
// recorder, the HTTP fetcher and a spooled zip archive per crawl.
func NewScheduler(cfg config.Config, logger *zap.Logger, registry prometheus.Registerer) Scheduler {
	recorder := metadata.NewRecorder("crawl-worker", logger, metadata.NewMetrics(registry))
	httpFetcher := fetcher.NewHttpFetcher(
		recorder,
		cfg.UserAgent(),
		cfg.Headers(),
		cfg.Timeout(),
		cfg.MaxBodySize(),
	)
	return NewSchedulerWithDeps(cfg, recorder, recorder, httpFetcher, nil)
}

// NewSchedulerWithDeps creates a Scheduler with injected dependencies.
// A nil archiveFactory spools zip archives under cfg.SpoolDir().
func NewSchedulerWithDeps(
	cfg config.Config,
	crawlFinalizer metadata.CrawlFinalizer,
	metadataSink metadata.MetadataSink,
	htmlFetcher fetcher.Fetcher,
	archiveFactory ArchiveFactory,
) Scheduler {
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	if crawlFinalizer == nil {
		crawlFinalizer = &metadata.NoopSink{}
	}
	if archiveFactory == nil {
		spoolDir, hashAlgo := cfg.SpoolDir(), cfg.HashAlgo()
		archiveFactory = func() (storage.Archive, failure.ClassifiedError) {
			archive, err := storage.NewZipArchive(metadataSink, spoolDir, hashAlgo)
			if err != nil {
				return nil, err
			}
			return archive, nil
		}
	}
	resolver := assets.NewArchiveResolver(metadataSink, htmlFetcher)
	return Scheduler{
		metadataSink:   metadataSink,
		crawlFinalizer: crawlFinalizer,
		htmlFetcher:    htmlFetcher,
		domExtractor:   extractor.NewDomExtractor(metadataSink),
		assetResolver:  &resolver,
		newArchive:     archiveFactory,
		retryParam: retry.NewRetryParam(
			cfg.Jitter(),
			cfg.RandomSeed(),
			cfg.MaxAttempt(),
			timeutil.NewBackoffParam(
				cfg.BackoffInitialDuration(),
				cfg.BackoffMultiplier(),
				cfg.BackoffMaxDuration(),
			),
		),
		concurrency: cfg.Concurrency(),
	}
}

// Crawl archives up to pageBudget same-domain pages reachable from startURL,
// together with their assets, and returns the finalized zip.
func (s *Scheduler) Crawl(ctx context.Context, startURL string, pageBudget int) (CrawlingExecution, error) {
	crawlStartTime := time.Now()

	var session *crawlSession
	fatalErrors := 0

	// Final stats are recorded exactly once, whatever the outcome.
	defer func() {
		pages, warnings, assetCount := 0, 0, 0
		if session != nil {
			pages = session.pagesArchived
			warnings = len(session.warnings)
			assetCount = session.assetsArchived
		}
		s.crawlFinalizer.RecordFinalCrawlStats(
			pages,
			warnings+fatalErrors,
			assetCount,
			time.Since(crawlStartTime),
		)
	}()

	rootURL, inputErr := parseStartURL(startURL, pageBudget)
	if inputErr != nil {
		fatalErrors++
		s.recordCrawlError(startURL, inputErr)
		return CrawlingExecution{}, inputErr
	}

	archive, archiveErr := s.newArchive()
	if archiveErr != nil {
		fatalErrors++
		crawlErr := archiveFailure(archiveErr)
		s.recordCrawlError(startURL, crawlErr)
		return CrawlingExecution{}, crawlErr
	}
	defer archive.Close()

	session = newCrawlSession(rootURL, pageBudget, archive)
	session.frontier.Push(frontier.NewRootTask(rootURL))

	if crawlErr := s.run(ctx, session); crawlErr != nil {
		fatalErrors++
		s.recordCrawlError(startURL, crawlErr)
		return CrawlingExecution{}, crawlErr
	}

	data, finalizeErr := archive.Finalize()
	if finalizeErr != nil {
		fatalErrors++
		crawlErr := archiveFailure(finalizeErr)
		s.recordCrawlError(startURL, crawlErr)
		return CrawlingExecution{}, crawlErr
	}

	return CrawlingExecution{
		archive:        data,
		warnings:       session.warnings,
		pagesArchived:  session.pagesArchived,
		assetsArchived: session.assetsArchived,
	}, nil
}

func (s *Scheduler) run(ctx context.Context, session *crawlSession) *CrawlError {
	for !session.budgetExhausted() {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		task, ok := session.frontier.Pop()
		if !ok {
			return nil
		}
		if !session.frontier.MarkVisited(task.URL()) {
			continue
		}

		if crawlErr := s.processPage(ctx, session, task); crawlErr != nil {
			return crawlErr
		}
	}
	return nil
}

// processPage fetches, rewrites and stores one page, then schedules its
// same-domain links. A nil return means the crawl continues, possibly with
// a new warning on the session.
func (s *Scheduler) processPage(ctx context.Context, session *crawlSession, task frontier.PageTask) *CrawlError {
	fetchResult, pageUrl, fetched, crawlErr := s.fetchPage(ctx, session, task)
	if crawlErr != nil || !fetched {
		return crawlErr
	}

	contentType := fetchResult.ContentType()
	if contentType != "" && !fetcher.IsHTMLContent(contentType) {
		return s.pageFailure(session, task, fmt.Errorf("unexpected content type %q", contentType))
	}

	page, parseErr := s.domExtractor.Parse(pageUrl, fetchResult.Body(), contentType)
	if parseErr != nil {
		return s.pageFailure(session, task, parseErr)
	}

	refs := s.domExtractor.ExtractAssets(page)
	resolved, resolveErr := s.assetResolver.Resolve(
		ctx,
		page,
		refs,
		session.archive,
		assets.NewResolveParam(session.rootURL, s.concurrency, task.Depth(), s.retryParam),
	)
	if resolveErr != nil {
		return archiveFailure(resolveErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cancelled(ctxErr)
	}
	for _, assetFailure := range resolved.Failures() {
		session.warn(warningKindFor(assetFailure), pageUrl, assetFailure.Reference, assetFailure.Message)
	}

	body, serializeErr := s.domExtractor.Serialize(page)
	if serializeErr != nil {
		return s.pageFailure(session, task, serializeErr)
	}
	if _, addErr := session.archive.Add(resolved.PagePath(), body); addErr != nil {
		return archiveFailure(addErr)
	}

	session.pagesArchived++
	session.assetsArchived += len(resolved.Assets())

	links := sameDomainLinks(s.domExtractor.ExtractLinks(page), session.rootURL)
	session.frontier.PushDiscovered(task, links)
	return nil
}

// fetchPage requests the task's URL and walks its redirect chain one hop
// at a time. Each hop must stay on the root's host and is marked visited
// before it is requested, so a redirect never leads to a second fetch of a
// visited page. fetched is false when the task yields no page.
func (s *Scheduler) fetchPage(
	ctx context.Context,
	session *crawlSession,
	task frontier.PageTask,
) (fetcher.FetchResult, url.URL, bool, *CrawlError) {
	pageUrl := task.URL()
	for hops := 0; ; hops++ {
		fetchResult, fetchErr := s.htmlFetcher.Fetch(
			ctx,
			task.Depth(),
			fetcher.NewPageFetchParam(pageUrl, nil),
			s.retryParam,
		)
		if fetchErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fetcher.FetchResult{}, pageUrl, false, cancelled(ctxErr)
			}
			return fetcher.FetchResult{}, pageUrl, false, s.pageFailure(session, task, fetchErr)
		}

		target, redirected := fetchResult.RedirectTarget()
		if !redirected {
			return fetchResult, pageUrl, true, nil
		}
		target = urlutil.StripFragment(target)

		switch {
		case hops >= maxPageRedirects:
			return fetcher.FetchResult{}, pageUrl, false,
				s.pageFailure(session, task, fmt.Errorf("stopped after %d redirects", maxPageRedirects))
		case !urlutil.IsHTTP(target) || !urlutil.SameHost(target, session.rootURL):
			return fetcher.FetchResult{}, pageUrl, false,
				s.pageFailure(session, task, fmt.Errorf("redirected off-site to %s", target.String()))
		case frontier.SamePage(target, pageUrl):
			// scheme, slash or query change: same visited key
		case !session.frontier.MarkVisited(target):
			if task.IsRoot() {
				return fetcher.FetchResult{}, pageUrl, false,
					s.pageFailure(session, task, fmt.Errorf("redirected to already visited %s", target.String()))
			}
			return fetcher.FetchResult{}, pageUrl, false, nil
		}
		pageUrl = target
	}
}

// pageFailure turns a per-page problem into a warning, or into a fatal
// CrawlError when the page is the root.
func (s *Scheduler) pageFailure(session *crawlSession, task frontier.PageTask, cause error) *CrawlError {
	taskUrl := task.URL()
	if task.IsRoot() {
		return &CrawlError{
			Message:   fmt.Sprintf("%s: %v", taskUrl.String(), cause),
			Retryable: false,
			Cause:     ErrCauseRootFetchFailure,
			Err:       cause,
		}
	}
	session.warn(WarningPageFetch, taskUrl, "", cause.Error())
	return nil
}

func (s *Scheduler) recordCrawlError(startURL string, err *CrawlError) {
	s.metadataSink.RecordError(
		time.Now(),
		"scheduler",
		"Scheduler.Crawl",
		mapCrawlErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, startURL),
		},
	)
}

func parseStartURL(startURL string, pageBudget int) (url.URL, *CrawlError) {
	if pageBudget < 1 {
		return url.URL{}, &CrawlError{
			Message:   fmt.Sprintf("page budget must be at least 1, got %d", pageBudget),
			Retryable: false,
			Cause:     ErrCauseInvalidInput,
		}
	}
	parsed, err := url.Parse(strings.TrimSpace(startURL))
	if err != nil {
		return url.URL{}, &CrawlError{
			Message:   fmt.Sprintf("unparseable start url %q", startURL),
			Retryable: false,
			Cause:     ErrCauseInvalidInput,
			Err:       err,
		}
	}
	if !urlutil.IsHTTP(*parsed) || parsed.Host == "" {
		return url.URL{}, &CrawlError{
			Message:   fmt.Sprintf("start url %q must be an absolute http(s) URL", startURL),
			Retryable: false,
			Cause:     ErrCauseInvalidInput,
		}
	}
	return urlutil.StripFragment(*parsed), nil
}

func sameDomainLinks(links []url.URL, rootUrl url.URL) []url.URL {
	kept := make([]url.URL, 0, len(links))
	for _, link := range links {
		if urlutil.SameHost(link, rootUrl) {
			kept = append(kept, link)
		}
	}
	return kept
}

func warningKindFor(err *assets.AssetsError) WarningKind {
	switch err.Cause {
	case assets.ErrCauseDecodeFailure:
		return WarningDecode
	case assets.ErrCauseEmptyPath:
		return WarningAssetPath
	default:
		return WarningAssetFetch
	}
}

func cancelled(err error) *CrawlError {
	return &CrawlError{
		Message:   "crawl cancelled",
		Retryable: false,
		Cause:     ErrCauseCancelled,
		Err:       err,
	}
}

func archiveFailure(err error) *CrawlError {
	var storageErr *storage.StorageError
	message := err.Error()
	if errors.As(err, &storageErr) && storageErr.Path != "" {
		message = fmt.Sprintf("%s: %s", storageErr.Path, storageErr.Message)
	}
	return &CrawlError{
		Message:   message,
		Retryable: false,
		Cause:     ErrCauseArchiveFailure,
		Err:       err,
	}
}
