package crawler

import (
	"context"
	"sync"
)

// Index answers whether a URL has already been crawled and persisted.
// storage.Store satisfies it.
type Index interface {
	IsIndexed(ctx context.Context, url string) (bool, error)
}

// DedupIndex combines the persistent index with the set of URLs already
// attempted during the current run, so a URL is fetched at most once per run
// even though ingestion only happens after the traversal.
type DedupIndex struct {
	store     Index
	mu        sync.Mutex
	attempted map[string]bool
}

// NewDedupIndex creates a run-scoped index over store
func NewDedupIndex(store Index) *DedupIndex {
	return &DedupIndex{
		store:     store,
		attempted: make(map[string]bool),
	}
}

// IsIndexed queries the persistent index. Safe for concurrent use.
func (d *DedupIndex) IsIndexed(ctx context.Context, url string) (bool, error) {
	return d.store.IsIndexed(ctx, url)
}

// MarkAttempted records url for this run and returns false if it was
// already recorded
func (d *DedupIndex) MarkAttempted(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.attempted[url] {
		return false
	}
	d.attempted[url] = true
	return true
}

// Unattempted filters urls down to unique entries not yet attempted this run
func (d *DedupIndex) Unattempted(urls []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(urls))
	for _, u := range uniqueURLs(urls) {
		if !d.attempted[u] {
			out = append(out, u)
		}
	}
	return out
}
