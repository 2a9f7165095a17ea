package frontier

import (
	"net/url"
)

// PageTask is a page waiting to be fetched.
type PageTask struct {
	targetURL      url.URL
	discoveredFrom *url.URL
	depth          int
}

// NewRootTask creates the task for the crawl's start page.
func NewRootTask(rootURL url.URL) PageTask {
	return PageTask{targetURL: rootURL}
}

// NewDiscoveredTask creates a task for a link found on parent.
func NewDiscoveredTask(targetURL url.URL, parent PageTask) PageTask {
	from := parent.targetURL
	return PageTask{
		targetURL:      targetURL,
		discoveredFrom: &from,
		depth:          parent.depth + 1,
	}
}

func (p PageTask) URL() url.URL {
	return p.targetURL
}

// DiscoveredFrom returns the page that linked here; false for the root.
func (p PageTask) DiscoveredFrom() (url.URL, bool) {
	if p.discoveredFrom == nil {
		return url.URL{}, false
	}
	return *p.discoveredFrom, true
}

func (p PageTask) Depth() int {
	return p.depth
}

func (p PageTask) IsRoot() bool {
	return p.discoveredFrom == nil
}
