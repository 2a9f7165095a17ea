package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/extractor"
	"github.com/rohmanhakim/site-archiver/internal/fetcher"
	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/internal/storage"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/rohmanhakim/site-archiver/pkg/urlutil"
	"golang.org/x/sync/errgroup"
)

/*
Responsibilities
- Classify each asset reference of a page: inline, same-domain, external
- Decode inline data URIs and fetch same-domain assets
- Add asset bytes to the archive under images/, css/ or js/
- Rewrite references so the archived page opens offline

Asset Policies
- Same-domain assets are rewritten relative to the page's archive entry
- External assets are rewritten to their absolute URL and never fetched
- Non-http(s) references are left as they are
- Missing or undecodable assets are reported, not fatal
- An archive write failure is fatal

Resolution happens in three passes. Planning and data URI decoding run
in reference order so embedded image numbering is stable. Same-domain fetches
then run concurrently, bounded by ResolveParam.Concurrency. Archive writes and
DOM rewrites are applied last, again in reference order.
*/
type Resolver interface {
	Resolve(
		ctx context.Context,
		page extractor.FetchedPage,
		refs []extractor.AssetReference,
		sink storage.Sink,
		resolveParam ResolveParam,
	) (ResolvedPage, failure.ClassifiedError)
}

type ArchiveResolver struct {
	metadataSink metadata.MetadataSink
	fetcher      fetcher.Fetcher
}

func NewArchiveResolver(
	metadataSink metadata.MetadataSink,
	assetFetcher fetcher.Fetcher,
) ArchiveResolver {
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	return ArchiveResolver{
		metadataSink: metadataSink,
		fetcher:      assetFetcher,
	}
}

func (r *ArchiveResolver) Resolve(
	ctx context.Context,
	page extractor.FetchedPage,
	refs []extractor.AssetReference,
	sink storage.Sink,
	resolveParam ResolveParam,
) (ResolvedPage, failure.ClassifiedError) {
	pageUrl := page.URL()
	result := ResolvedPage{
		pagePath: PagePath(pageUrl),
	}

	plans := r.plan(refs, resolveParam.rootURL)
	r.fetchAll(ctx, plans, resolveParam)

	for i := range plans {
		p := &plans[i]
		switch p.action {
		case actionStore:
			writeResult, err := sink.Add(p.archivePath, p.data)
			if err != nil {
				assetsErr := &AssetsError{
					Message:   fmt.Sprintf("%s: %v", p.archivePath, err),
					Retryable: false,
					Cause:     ErrCauseArchiveWrite,
					Reference: shortReference(p.source()),
					Err:       err,
				}
				r.recordError(pageUrl, assetsErr)
				return ResolvedPage{}, assetsErr
			}
			p.ref.Rewrite(RelativeRef(result.pagePath, p.archivePath))
			result.assets = append(result.assets, ResolvedAsset{
				archivePath: p.archivePath,
				kind:        p.ref.Kind(),
				source:      p.source(),
				size:        len(p.data),
				overwritten: writeResult.Overwritten(),
			})
		case actionExternal:
			p.ref.Rewrite(p.target.String())
			result.external++
		case actionFail:
			r.recordError(pageUrl, p.failure)
			result.failures = append(result.failures, p.failure)
		}
	}

	return result, nil
}

// plan decides what happens to every reference without touching the network.
func (r *ArchiveResolver) plan(refs []extractor.AssetReference, rootUrl url.URL) []resolution {
	plans := make([]resolution, len(refs))
	embedded := 0

	for i, ref := range refs {
		p := resolution{ref: ref}

		if ref.IsDataURI() {
			data, ext, err := DecodeDataURI(ref.DataURI())
			if err != nil {
				p.action = actionFail
				p.failure = &AssetsError{
					Message:   err.Error(),
					Retryable: false,
					Cause:     ErrCauseDecodeFailure,
					Reference: shortReference(ref.DataURI()),
					Err:       err,
				}
			} else {
				p.action = actionStore
				p.archivePath = EmbeddedImagePath(embedded, ext)
				p.data = data
				embedded++
			}
			plans[i] = p
			continue
		}

		remote, _ := ref.RemoteURL()
		switch {
		case !urlutil.IsHTTP(remote):
			p.action = actionNone
		case !urlutil.SameHost(remote, rootUrl):
			p.action = actionExternal
			p.target = remote
		default:
			p.target = remote
			archivePath, ok := AssetPath(ref.Kind(), remote)
			if !ok {
				p.action = actionFail
				p.failure = &AssetsError{
					Message:   fmt.Sprintf("no file name in %q", remote.String()),
					Retryable: false,
					Cause:     ErrCauseEmptyPath,
					Reference: remote.String(),
				}
			} else {
				p.action = actionFetch
				p.archivePath = archivePath
			}
		}
		plans[i] = p
	}

	return plans
}

// fetchAll downloads every actionFetch plan. Each goroutine owns one plan
// slot, so no locking is needed; failures are kept on the plan, never
// returned to the group.
func (r *ArchiveResolver) fetchAll(ctx context.Context, plans []resolution, resolveParam ResolveParam) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(resolveParam.concurrency, 1))

	for i := range plans {
		if plans[i].action != actionFetch {
			continue
		}
		p := &plans[i]
		g.Go(func() error {
			fetchParam := fetcher.NewFetchParam(p.target, acceptHeader(p.ref.Kind()))
			fetchResult, err := r.fetcher.Fetch(gctx, resolveParam.crawlDepth, fetchParam, resolveParam.retryParam)
			if err != nil {
				p.action = actionFail
				p.failure = &AssetsError{
					Message:   err.Error(),
					Retryable: false,
					Cause:     ErrCauseAssetFetchFailure,
					Reference: p.target.String(),
					Err:       err,
				}
				return nil
			}
			p.action = actionStore
			p.data = fetchResult.Body()
			return nil
		})
	}

	_ = g.Wait()
}

func (r *ArchiveResolver) recordError(pageUrl url.URL, err *AssetsError) {
	attrs := []metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, pageUrl.String()),
		metadata.NewAttr(metadata.AttrAssetURL, err.Reference),
	}
	var fetchErr *fetcher.FetchError
	if errors.As(err.Err, &fetchErr) && fetchErr.StatusCode > 0 {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrHTTPStatus, fmt.Sprint(fetchErr.StatusCode)))
	}
	r.metadataSink.RecordError(
		time.Now(),
		"assets",
		"ArchiveResolver.Resolve",
		mapAssetsErrorToMetadataCause(err),
		err.Error(),
		attrs,
	)
}

func (p resolution) source() string {
	if p.ref.IsDataURI() {
		return "data:"
	}
	return p.target.String()
}

func acceptHeader(kind extractor.AssetKind) map[string]string {
	switch kind {
	case extractor.AssetImage:
		return map[string]string{"Accept": "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"}
	case extractor.AssetStylesheet:
		return map[string]string{"Accept": "text/css,*/*;q=0.1"}
	default:
		return map[string]string{"Accept": "*/*"}
	}
}
