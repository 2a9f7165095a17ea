package extractor

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// AssetKind is the category of a page sub-resource.
type AssetKind string

const (
	AssetImage      AssetKind = "image"
	AssetStylesheet AssetKind = "stylesheet"
	AssetScript     AssetKind = "script"
)

// ArchiveDir is the top-level archive directory holding assets of this kind.
func (k AssetKind) ArchiveDir() string {
	switch k {
	case AssetImage:
		return "images"
	case AssetStylesheet:
		return "css"
	case AssetScript:
		return "js"
	default:
		return "assets"
	}
}

// FetchedPage is a page body together with its parsed DOM.
// The DOM is mutated in place by the rewriter.
type FetchedPage struct {
	url         url.URL
	rawBytes    []byte
	contentType string
	doc         *goquery.Document
	// base is the URL relative references resolve against: the page URL,
	// or the document's <base href> when present.
	base url.URL
}

func (p FetchedPage) URL() url.URL {
	return p.url
}

func (p FetchedPage) RawBytes() []byte {
	return p.rawBytes
}

func (p FetchedPage) ContentType() string {
	return p.contentType
}

func (p FetchedPage) Document() *goquery.Document {
	return p.doc
}

func (p FetchedPage) BaseURL() url.URL {
	return p.base
}

// AssetReference is one tag occurrence pointing at a sub-resource.
// Exactly one of remote or dataURI is set.
type AssetReference struct {
	kind      AssetKind
	remote    *url.URL
	dataURI   string
	ownerPage url.URL
	selection *goquery.Selection
	attr      string
}

func (a AssetReference) Kind() AssetKind {
	return a.kind
}

func (a AssetReference) IsDataURI() bool {
	return a.remote == nil
}

// RemoteURL returns the absolute URL; false for data URIs.
func (a AssetReference) RemoteURL() (url.URL, bool) {
	if a.remote == nil {
		return url.URL{}, false
	}
	return *a.remote, true
}

func (a AssetReference) DataURI() string {
	return a.dataURI
}

func (a AssetReference) OwnerPage() url.URL {
	return a.ownerPage
}

// Attr is the attribute name holding the reference (src or href).
func (a AssetReference) Attr() string {
	return a.attr
}

// CurrentValue returns the attribute value as it is now in the DOM.
func (a AssetReference) CurrentValue() string {
	value, _ := a.selection.Attr(a.attr)
	return value
}

// Rewrite replaces the attribute value on the owning element.
func (a AssetReference) Rewrite(value string) {
	a.selection.SetAttr(a.attr, value)
}
