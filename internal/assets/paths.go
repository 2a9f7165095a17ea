package assets

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/rohmanhakim/site-archiver/internal/extractor"
)

const pageDir = "html"

// PagePath maps a page URL to its archive entry under html/.
// The root and directory-like paths (trailing slash or no extension in the
// last segment) become index.html inside the matching directory, so /docs and
// /docs/intro never collide as file and directory.
func PagePath(pageUrl url.URL) string {
	rel := cleanRelative(pageUrl.Path)
	if rel == "" {
		return pageDir + "/index.html"
	}
	if strings.HasSuffix(pageUrl.Path, "/") || path.Ext(rel) == "" {
		return pageDir + "/" + rel + "/index.html"
	}
	return pageDir + "/" + rel
}

// AssetPath maps a same-domain asset URL to <images|css|js>/<url path>.
// It returns false when the URL has no file name.
func AssetPath(kind extractor.AssetKind, assetUrl url.URL) (string, bool) {
	if assetUrl.Path == "" || strings.HasSuffix(assetUrl.Path, "/") {
		return "", false
	}
	rel := cleanRelative(assetUrl.Path)
	if rel == "" {
		return "", false
	}
	return kind.ArchiveDir() + "/" + rel, true
}

// EmbeddedImagePath names the n-th decoded inline image of a page.
func EmbeddedImagePath(n int, ext string) string {
	return extractor.AssetImage.ArchiveDir() + "/embedded_image_" + strconv.Itoa(n) + "." + ext
}

// RelativeRef returns the reference that, written inside the entry fromEntry,
// resolves to toEntry.
func RelativeRef(fromEntry, toEntry string) string {
	fromDir := strings.Split(path.Dir(fromEntry), "/")
	if path.Dir(fromEntry) == "." {
		fromDir = nil
	}
	target := strings.Split(toEntry, "/")

	common := 0
	for common < len(fromDir) && common < len(target)-1 && fromDir[common] == target[common] {
		common++
	}

	var b strings.Builder
	for i := common; i < len(fromDir); i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(target[common:], "/"))

	escaped := (&url.URL{Path: b.String()}).EscapedPath()
	// a colon in the first segment would read as a scheme
	if first, _, _ := strings.Cut(escaped, "/"); strings.Contains(first, ":") {
		return "./" + escaped
	}
	return escaped
}

// cleanRelative normalizes a URL path into a relative, dot-free archive path.
func cleanRelative(p string) string {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "_"))
	return strings.TrimPrefix(cleaned, "/")
}
