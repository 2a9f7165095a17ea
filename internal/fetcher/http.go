package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/rohmanhakim/site-archiver/pkg/retry"
)

/*
Responsibilities

- Perform HTTP GET requests for pages and assets
- Apply configured headers and a per-request timeout
- Follow a bounded number of redirects, or hand them back to the caller
  for page fetches
- Classify responses into retryable and non-retryable failures
- Record every fetch through the metadata sink

The fetcher never parses content; it only returns bytes and metadata.
Whether a body is acceptable as a page is the caller's decision.
*/

const maxRedirects = 10

var errTooManyRedirects = errors.New("stopped after too many redirects")

type HttpFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	// same transport, never follows redirects
	pageClient   *http.Client
	userAgent    string
	headers      map[string]string
	timeout      time.Duration
	maxBodySize  int64
}

// NewHttpFetcher builds a fetcher. headers are sent with every request on
// top of the default browser-like set; a non-positive timeout or maxBodySize
// disables that limit.
func NewHttpFetcher(
	metadataSink metadata.MetadataSink,
	userAgent string,
	headers map[string]string,
	timeout time.Duration,
	maxBodySize int64,
) *HttpFetcher {
	return NewHttpFetcherWithClient(metadataSink, &http.Client{}, userAgent, headers, timeout, maxBodySize)
}

func NewHttpFetcherWithClient(
	metadataSink metadata.MetadataSink,
	httpClient *http.Client,
	userAgent string,
	headers map[string]string,
	timeout time.Duration,
	maxBodySize int64,
) *HttpFetcher {
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	client := *httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		return nil
	}
	pageClient := *httpClient
	pageClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &HttpFetcher{
		metadataSink: metadataSink,
		httpClient:   &client,
		pageClient:   &pageClient,
		userAgent:    userAgent,
		headers:      copied,
		timeout:      timeout,
		maxBodySize:  maxBodySize,
	}
}

func (h *HttpFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HttpFetcher.Fetch"
	startTime := time.Now()

	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam)
	}
	result := retry.Retry(ctx, retryParam, fetchTask)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	retryCount := max(result.Attempts()-1, 0)

	if result.IsFailure() {
		var fetchErr *FetchError
		if errors.As(result.Err(), &fetchErr) {
			statusCode = fetchErr.StatusCode
		}
	} else {
		value := result.Value()
		statusCode = value.Code()
		contentType = value.ContentType()
	}

	h.metadataSink.RecordFetch(
		fetchParam.fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		retryCount,
		crawlDepth,
	)

	if result.IsFailure() {
		err := result.Err()
		if errors.Is(err, &retry.RetryError{}) {
			h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, err)
		}
		return FetchResult{}, err
	}

	return result.Value(), nil
}

func (h *HttpFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
				metadata.NewAttr(metadata.AttrHTTPStatus, fmt.Sprint(fetchError.StatusCode)),
			},
		)
	}
}

func (h *HttpFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Message),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HttpFetcher) performFetch(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	fetchUrl := fetchParam.fetchUrl

	reqCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseInvalidRequest,
		}
	}

	for key, value := range requestHeaders(h.userAgent) {
		req.Header.Set(key, value)
	}
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}
	for key, value := range fetchParam.headers {
		req.Header.Set(key, value)
	}

	client := h.httpClient
	if fetchParam.stopAtRedirect {
		client = h.pageClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return FetchResult{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if fetchParam.stopAtRedirect && isRedirect(resp.StatusCode) {
		return redirectResult(fetchUrl, resp)
	}

	if fetchErr := classifyStatus(resp.StatusCode); fetchErr != nil {
		return FetchResult{}, fetchErr
	}

	body, fetchErr := h.readBody(ctx, resp)
	if fetchErr != nil {
		return FetchResult{}, fetchErr
	}

	responseHeaders := firstHeaderValues(resp.Header)

	finalUrl := fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		finalUrl = *resp.Request.URL
	}

	return FetchResult{
		url:  finalUrl,
		body: body,
		meta: ResponseMeta{
			statusCode:          resp.StatusCode,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     responseHeaders,
		},
	}, nil
}

// redirectResult resolves the Location of an unfollowed 3xx against the
// request URL. A missing or unparseable Location is a failure.
func redirectResult(fetchUrl url.URL, resp *http.Response) (FetchResult, failure.ClassifiedError) {
	location := resp.Header.Get("Location")
	if location == "" {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("redirect %d without Location", resp.StatusCode),
			Retryable:  false,
			Cause:      ErrCauseInvalidRedirect,
			StatusCode: resp.StatusCode,
		}
	}
	target, err := fetchUrl.Parse(location)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("invalid redirect location %q: %v", location, err),
			Retryable:  false,
			Cause:      ErrCauseInvalidRedirect,
			StatusCode: resp.StatusCode,
		}
	}
	return FetchResult{
		url:        fetchUrl,
		redirectTo: target,
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			responseHeaders: firstHeaderValues(resp.Header),
		},
	}, nil
}

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func firstHeaderValues(header http.Header) map[string]string {
	values := make(map[string]string, len(header))
	for key, v := range header {
		if len(v) > 0 {
			values[key] = v[0]
		}
	}
	return values
}

func (h *HttpFetcher) readBody(ctx context.Context, resp *http.Response) ([]byte, *FetchError) {
	reader := io.Reader(resp.Body)
	if h.maxBodySize > 0 {
		reader = io.LimitReader(resp.Body, h.maxBodySize+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &FetchError{
				Message:    fmt.Sprintf("cancelled while reading body: %v", ctx.Err()),
				Retryable:  false,
				Cause:      ErrCauseCancelled,
				StatusCode: resp.StatusCode,
			}
		}
		return nil, &FetchError{
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Retryable:  true,
			Cause:      ErrCauseReadResponseBodyError,
			StatusCode: resp.StatusCode,
		}
	}

	if h.maxBodySize > 0 && int64(len(body)) > h.maxBodySize {
		return nil, &FetchError{
			Message:    fmt.Sprintf("body exceeds %d bytes", h.maxBodySize),
			Retryable:  false,
			Cause:      ErrCauseBodyTooLarge,
			StatusCode: resp.StatusCode,
		}
	}
	return body, nil
}

// classifyTransportError distinguishes caller cancellation, per-request
// timeouts, redirect loops and plain network failures.
func classifyTransportError(ctx context.Context, err error) *FetchError {
	switch {
	case ctx.Err() != nil:
		return &FetchError{
			Message:   fmt.Sprintf("request cancelled: %v", ctx.Err()),
			Retryable: false,
			Cause:     ErrCauseCancelled,
		}
	case errors.Is(err, errTooManyRedirects):
		return &FetchError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &FetchError{
			Message:   fmt.Sprintf("request timed out: %v", err),
			Retryable: true,
			Cause:     ErrCauseTimeout,
		}
	default:
		return &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
}

// classifyStatus returns nil for 2xx responses.
func classifyStatus(statusCode int) *FetchError {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 500:
		return &FetchError{
			Message:    fmt.Sprintf("server error: %d", statusCode),
			Retryable:  true,
			Cause:      ErrCauseRequest5xx,
			StatusCode: statusCode,
		}
	case statusCode == http.StatusTooManyRequests:
		return &FetchError{
			Message:    "rate limited (429)",
			Retryable:  true,
			Cause:      ErrCauseRequestTooMany,
			StatusCode: statusCode,
		}
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return &FetchError{
			Message:    fmt.Sprintf("access forbidden (%d)", statusCode),
			Retryable:  false,
			Cause:      ErrCauseRequestPageForbidden,
			StatusCode: statusCode,
		}
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return &FetchError{
			Message:    fmt.Sprintf("not found (%d)", statusCode),
			Retryable:  false,
			Cause:      ErrCauseRequestNotFound,
			StatusCode: statusCode,
		}
	case statusCode >= 400:
		return &FetchError{
			Message:    fmt.Sprintf("client error: %d", statusCode),
			Retryable:  false,
			Cause:      ErrCauseRequest4xx,
			StatusCode: statusCode,
		}
	default:
		// 1xx and unfollowed 3xx
		return &FetchError{
			Message:    fmt.Sprintf("unexpected status: %d", statusCode),
			Retryable:  false,
			Cause:      ErrCauseRedirectLimitExceeded,
			StatusCode: statusCode,
		}
	}
}

// IsHTMLContent reports whether a Content-Type header value denotes HTML.
func IsHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}
	if userAgent != "" {
		headers["User-Agent"] = userAgent
	}
	return headers
}
