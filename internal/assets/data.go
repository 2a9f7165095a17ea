package assets

import (
	"net/url"

	"github.com/rohmanhakim/site-archiver/internal/extractor"
	"github.com/rohmanhakim/site-archiver/pkg/retry"
)

type ResolveParam struct {
	// rootURL scopes same-domain assets: only its host[:port] is fetched.
	rootURL     url.URL
	concurrency int
	crawlDepth  int
	retryParam  retry.RetryParam
}

func NewResolveParam(
	rootURL url.URL,
	concurrency int,
	crawlDepth int,
	retryParam retry.RetryParam,
) ResolveParam {
	return ResolveParam{
		rootURL:     rootURL,
		concurrency: concurrency,
		crawlDepth:  crawlDepth,
		retryParam:  retryParam,
	}
}

func (r ResolveParam) RootURL() url.URL {
	return r.rootURL
}

func (r ResolveParam) Concurrency() int {
	return r.concurrency
}

// ResolvedAsset is an asset that was written into the archive.
type ResolvedAsset struct {
	archivePath string
	kind        extractor.AssetKind
	source      string
	size        int
	overwritten bool
}

func (a ResolvedAsset) ArchivePath() string {
	return a.archivePath
}

func (a ResolvedAsset) Kind() extractor.AssetKind {
	return a.kind
}

// Source is the absolute URL the bytes came from, or "data:" for inline images.
func (a ResolvedAsset) Source() string {
	return a.source
}

func (a ResolvedAsset) Size() int {
	return a.size
}

func (a ResolvedAsset) Overwritten() bool {
	return a.overwritten
}

// ResolvedPage is the outcome of resolving one page's references.
// The page DOM has already been rewritten when it is returned.
type ResolvedPage struct {
	pagePath string
	assets   []ResolvedAsset
	external int
	failures []*AssetsError
}

func (r ResolvedPage) PagePath() string {
	return r.pagePath
}

func (r ResolvedPage) Assets() []ResolvedAsset {
	return r.assets
}

// ExternalRewrites counts references rewritten to absolute cross-domain URLs.
func (r ResolvedPage) ExternalRewrites() int {
	return r.external
}

// Failures lists the recoverable problems, in reference order.
func (r ResolvedPage) Failures() []*AssetsError {
	return r.failures
}

// resolution is the per-reference plan built before any DOM mutation.
type resolution struct {
	ref         extractor.AssetReference
	action      resolveAction
	archivePath string
	target      url.URL
	data        []byte
	failure     *AssetsError
}

type resolveAction int

const (
	actionNone resolveAction = iota
	actionStore
	actionFetch
	actionExternal
	actionFail
)
