package scheduler

import (
	"net/url"

	"github.com/rohmanhakim/site-archiver/internal/frontier"
	"github.com/rohmanhakim/site-archiver/internal/storage"
)

// CrawlingExecution is the outcome of a successful crawl.
type CrawlingExecution struct {
	archive        []byte
	warnings       []Warning
	pagesArchived  int
	assetsArchived int
}

// Archive is the finalized zip.
func (c CrawlingExecution) Archive() []byte {
	return c.archive
}

func (c CrawlingExecution) Warnings() []Warning {
	return c.warnings
}

func (c CrawlingExecution) PagesArchived() int {
	return c.pagesArchived
}

func (c CrawlingExecution) AssetsArchived() int {
	return c.assetsArchived
}

// NewCrawlingExecutionForTest creates a CrawlingExecution for testing purposes.
// This allows packages that consume crawl results to build them without
// running a crawl.
func NewCrawlingExecutionForTest(
	archive []byte,
	warnings []Warning,
	pagesArchived int,
	assetsArchived int,
) CrawlingExecution {
	return CrawlingExecution{
		archive:        archive,
		warnings:       warnings,
		pagesArchived:  pagesArchived,
		assetsArchived: assetsArchived,
	}
}

type WarningKind string

const (
	WarningPageFetch  WarningKind = "page fetch"
	WarningAssetFetch WarningKind = "asset fetch"
	WarningDecode     WarningKind = "decode"
	WarningAssetPath  WarningKind = "asset path"
)

// Warning is a recoverable problem that did not stop the crawl.
type Warning struct {
	Kind WarningKind
	// PageURL is the page being processed when the problem occurred.
	PageURL   string
	Reference string
	Message   string
}

// crawlSession holds the state of one Crawl call.
type crawlSession struct {
	rootURL        url.URL
	pageBudget     int
	frontier       *frontier.Frontier
	archive        storage.Archive
	warnings       []Warning
	pagesArchived  int
	assetsArchived int
}

func newCrawlSession(rootURL url.URL, pageBudget int, archive storage.Archive) *crawlSession {
	return &crawlSession{
		rootURL:    rootURL,
		pageBudget: pageBudget,
		frontier:   frontier.NewFrontier(),
		archive:    archive,
	}
}

func (s *crawlSession) warn(kind WarningKind, pageUrl url.URL, reference string, message string) {
	s.warnings = append(s.warnings, Warning{
		Kind:      kind,
		PageURL:   pageUrl.String(),
		Reference: reference,
		Message:   message,
	})
}

func (s *crawlSession) budgetExhausted() bool {
	return s.pagesArchived >= s.pageBudget
}
