package fetcher

import (
	"net/url"
)

// HTTP boundary

type FetchParam struct {
	fetchUrl url.URL
	// extra headers for this request only; they win over fetcher-wide headers
	headers map[string]string
	// when set, a 3xx response is returned as a redirect instead of followed
	stopAtRedirect bool
}

func NewFetchParam(fetchUrl url.URL, headers map[string]string) FetchParam {
	return FetchParam{
		fetchUrl: fetchUrl,
		headers:  headers,
	}
}

// NewPageFetchParam is like NewFetchParam but leaves redirects to the
// caller, who sees the target through FetchResult.RedirectTarget.
func NewPageFetchParam(fetchUrl url.URL, headers map[string]string) FetchParam {
	return FetchParam{
		fetchUrl:       fetchUrl,
		headers:        headers,
		stopAtRedirect: true,
	}
}

func (f FetchParam) URL() url.URL {
	return f.fetchUrl
}

func (f FetchParam) Headers() map[string]string {
	return f.headers
}

func (f FetchParam) StopAtRedirect() bool {
	return f.stopAtRedirect
}

type FetchResult struct {
	url        url.URL
	body       []byte
	meta       ResponseMeta
	redirectTo *url.URL
}

// URL is the final URL after redirects.
func (f *FetchResult) URL() url.URL {
	return f.url
}

// RedirectTarget returns the absolute Location of an unfollowed redirect.
// It is only ever set for fetches built with NewPageFetchParam.
func (f *FetchResult) RedirectTarget() (url.URL, bool) {
	if f.redirectTo == nil {
		return url.URL{}, false
	}
	return *f.redirectTo, true
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) SizeByte() uint64 {
	return f.meta.transferredSizeByte
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

// ContentType returns the declared Content-Type header, or "" when absent.
func (f *FetchResult) ContentType() string {
	return f.meta.responseHeaders["Content-Type"]
}

type ResponseMeta struct {
	statusCode          int
	transferredSizeByte uint64
	responseHeaders     map[string]string
}

// NewRedirectResultForTest creates a FetchResult for an unfollowed redirect.
func NewRedirectResultForTest(fetchUrl url.URL, statusCode int, target url.URL) FetchResult {
	return FetchResult{
		url:        fetchUrl,
		redirectTo: &target,
		meta: ResponseMeta{
			statusCode:      statusCode,
			responseHeaders: map[string]string{"Location": target.String()},
		},
	}
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
) FetchResult {
	headers := make(map[string]string, len(responseHeaders)+1)
	for k, v := range responseHeaders {
		headers[k] = v
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return FetchResult{
		url:  url,
		body: body,
		meta: ResponseMeta{
			statusCode:          statusCode,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     headers,
		},
	}
}
