package urlutil

import (
	"net/url"
	"strings"
)

// Canonicalize maps equivalent URL spellings to a single form used as the
// crawl's visited key.
//
//   - Scheme and host are lowercased
//   - Default ports are omitted (:80 for http, :443 for https)
//   - An empty path becomes "/"; other trailing slashes are removed
//   - Fragments and query parameters are removed
//
// Canonicalize is pure and idempotent; the input is never mutated.
func Canonicalize(sourceUrl url.URL) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	if canonical.Path == "" {
		canonical.Path = "/"
	}
	canonical.Path = stripTrailingSlash(canonical.Path)
	canonical.RawPath = ""

	canonical.Fragment = ""
	canonical.RawFragment = ""

	canonical.RawQuery = ""
	canonical.ForceQuery = false

	return canonical
}

// SameHost reports whether a and b share host and port, ignoring case and scheme.
func SameHost(a, b url.URL) bool {
	return strings.EqualFold(a.Host, b.Host)
}

// IsHTTP reports whether u uses the http or https scheme.
func IsHTTP(u url.URL) bool {
	scheme := lowerASCII(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// StripFragment returns u without its fragment.
func StripFragment(u url.URL) url.URL {
	u.Fragment = ""
	u.RawFragment = ""
	return u
}

// Resolve parses ref and resolves it against base.
func Resolve(base url.URL, ref string) (url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return url.URL{}, err
	}
	return *base.ResolveReference(parsed), nil
}

// lowerASCII converts ASCII characters to lowercase without allocating
// when the input is already lowercase.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
