package frontier

import (
	"net/url"

	"github.com/rohmanhakim/site-archiver/pkg/urlutil"
)

/*
Frontier Responsibilities
- Maintain depth-first ordering with an explicit stack
- Deduplicate URLs by canonical form
- Knows nothing about:
	- fetching
	- extraction
	- rewriting
	- storage

It is a data structure + policy module, not a pipeline executor.
A Frontier belongs to a single crawl and is not safe for concurrent use.
*/
type Frontier struct {
	stack   *LIFOStack[PageTask]
	visited Set[string]
}

func NewFrontier() *Frontier {
	return &Frontier{
		stack:   NewLIFOStack[PageTask](),
		visited: NewSet[string](),
	}
}

// Push schedules a single task.
func (f *Frontier) Push(task PageTask) {
	f.stack.Push(task)
}

// PushDiscovered schedules links found on parent. Links are pushed in
// reverse so that pops follow document order. Already visited links are
// skipped.
func (f *Frontier) PushDiscovered(parent PageTask, links []url.URL) int {
	pushed := 0
	for i := len(links) - 1; i >= 0; i-- {
		if f.IsVisited(links[i]) {
			continue
		}
		f.stack.Push(NewDiscoveredTask(links[i], parent))
		pushed++
	}
	return pushed
}

// Pop returns the next task, false when the stack is empty.
func (f *Frontier) Pop() (PageTask, bool) {
	return f.stack.Pop()
}

// MarkVisited records u and reports whether it was not visited before.
// The visited set only grows.
func (f *Frontier) MarkVisited(u url.URL) bool {
	return f.visited.Add(visitKey(u))
}

func (f *Frontier) IsVisited(u url.URL) bool {
	return f.visited.Contains(visitKey(u))
}

func (f *Frontier) VisitedCount() int {
	return f.visited.Size()
}

func (f *Frontier) Pending() int {
	return f.stack.Size()
}

// SamePage reports whether a and b share a visited key.
func SamePage(a, b url.URL) bool {
	return visitKey(a) == visitKey(b)
}

// visitKey is the canonical URL without its scheme. Same-domain scope
// ignores the scheme, so http and https spellings are one page.
func visitKey(u url.URL) string {
	canonical := urlutil.Canonicalize(u)
	canonical.Scheme = ""
	return canonical.String()
}
