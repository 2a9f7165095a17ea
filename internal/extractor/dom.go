package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/rohmanhakim/site-archiver/pkg/urlutil"
	"golang.org/x/net/html"
)

/*
Responsibilities
- Parse HTML into a DOM tree
- Discover asset references: images, stylesheets, scripts
- Discover outgoing anchor links
- Serialize the (possibly rewritten) DOM back to bytes

Discovery Rules
- Assets are returned grouped by kind (images, stylesheets, scripts),
  each group in document order. One reference per tag occurrence.
- Empty or missing targets are dropped silently.
- Targets that cannot be parsed as URLs are dropped and recorded.
- Links keep http(s) targets only, with fragments removed.

The extractor never fetches; it only reads and writes the DOM.
*/

type DomExtractor struct {
	metadataSink metadata.MetadataSink
}

func NewDomExtractor(
	metadataSink metadata.MetadataSink,
) DomExtractor {
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	return DomExtractor{
		metadataSink: metadataSink,
	}
}

// Parse builds a FetchedPage from a response body.
func (d *DomExtractor) Parse(
	pageUrl url.URL,
	body []byte,
	contentType string,
) (FetchedPage, failure.ClassifiedError) {
	page, err := d.parse(pageUrl, body, contentType)
	if err != nil {
		d.recordError("DomExtractor.Parse", pageUrl, err)
		return FetchedPage{}, err
	}
	return page, nil
}

func (d *DomExtractor) parse(pageUrl url.URL, body []byte, contentType string) (FetchedPage, *ExtractionError) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return FetchedPage{}, &ExtractionError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
	}
	if !isValidHTML(root) {
		return FetchedPage{}, &ExtractionError{
			Message:   "input is not a valid HTML document",
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
	}

	doc := goquery.NewDocumentFromNode(root)
	doc.Url = &pageUrl

	return FetchedPage{
		url:         pageUrl,
		rawBytes:    body,
		contentType: contentType,
		doc:         doc,
		base:        documentBase(doc, pageUrl),
	}, nil
}

// ExtractAssets returns images, then stylesheets, then scripts, each in
// document order.
func (d *DomExtractor) ExtractAssets(page FetchedPage) []AssetReference {
	var refs []AssetReference

	page.doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if ref, ok := d.newReference(page, s, "src", AssetImage, true); ok {
			refs = append(refs, ref)
		}
	})

	page.doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if !isStylesheetLink(s) {
			return
		}
		if ref, ok := d.newReference(page, s, "href", AssetStylesheet, false); ok {
			refs = append(refs, ref)
		}
	})

	page.doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if ref, ok := d.newReference(page, s, "src", AssetScript, false); ok {
			refs = append(refs, ref)
		}
	})

	return refs
}

// ExtractLinks returns absolute http(s) anchor targets in document order,
// without fragments and without duplicates.
func (d *DomExtractor) ExtractLinks(page FetchedPage) []url.URL {
	var links []url.URL
	seen := make(map[string]struct{})

	page.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		target, err := urlutil.Resolve(page.base, href)
		if err != nil {
			d.recordError("DomExtractor.ExtractLinks", page.url, &ExtractionError{
				Message:   fmt.Sprintf("unparseable link %q: %v", href, err),
				Retryable: false,
				Cause:     ErrCauseInvalidReference,
			})
			return
		}
		if !urlutil.IsHTTP(target) {
			return
		}
		target = urlutil.StripFragment(target)
		key := target.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, target)
	})

	return links
}

// Serialize renders the page's current DOM as HTML.
func (d *DomExtractor) Serialize(page FetchedPage) ([]byte, failure.ClassifiedError) {
	rendered, err := page.doc.Html()
	if err != nil {
		extractionErr := &ExtractionError{
			Message:   fmt.Sprintf("failed to render HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseSerialize,
		}
		d.recordError("DomExtractor.Serialize", page.url, extractionErr)
		return nil, extractionErr
	}
	return []byte(rendered), nil
}

func (d *DomExtractor) newReference(
	page FetchedPage,
	s *goquery.Selection,
	attr string,
	kind AssetKind,
	allowDataURI bool,
) (AssetReference, bool) {
	value := strings.TrimSpace(s.AttrOr(attr, ""))
	if value == "" {
		return AssetReference{}, false
	}

	ref := AssetReference{
		kind:      kind,
		ownerPage: page.url,
		selection: s,
		attr:      attr,
	}

	if IsDataURI(value) {
		if !allowDataURI {
			return AssetReference{}, false
		}
		ref.dataURI = value
		return ref, true
	}

	resolved, err := urlutil.Resolve(page.base, value)
	if err != nil {
		d.recordError("DomExtractor.ExtractAssets", page.url, &ExtractionError{
			Message:   fmt.Sprintf("unparseable %s reference %q: %v", kind, value, err),
			Retryable: false,
			Cause:     ErrCauseInvalidReference,
		})
		return AssetReference{}, false
	}
	ref.remote = &resolved
	return ref, true
}

func (d *DomExtractor) recordError(action string, pageUrl url.URL, err error) {
	var extractionError *ExtractionError
	if !errors.As(err, &extractionError) {
		return
	}
	d.metadataSink.RecordError(
		time.Now(),
		"extractor",
		action,
		mapExtractionErrorToMetadataCause(extractionError),
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, pageUrl.String()),
		},
	)
}

// IsDataURI reports whether a reference carries its content inline.
func IsDataURI(value string) bool {
	return len(value) >= 5 && strings.EqualFold(value[:5], "data:")
}

func isStylesheetLink(s *goquery.Selection) bool {
	for _, token := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
		if token == "stylesheet" {
			return true
		}
	}
	return false
}

// documentBase honours the first <base href>, resolved against the page URL.
func documentBase(doc *goquery.Document, pageUrl url.URL) url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return pageUrl
	}
	base, err := urlutil.Resolve(pageUrl, href)
	if err != nil || !urlutil.IsHTTP(base) {
		return pageUrl
	}
	return base
}

// isValidHTML checks that the parsed tree has an <html> element.
func isValidHTML(doc *html.Node) bool {
	var findHTML func(*html.Node) bool
	findHTML = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "html" {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if findHTML(c) {
				return true
			}
		}
		return false
	}
	return findHTML(doc)
}
