package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errConnRefused = errors.New("connection refused")

// fakeFetcher serves canned documents and counts calls per URL
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	delays map[string]time.Duration
	calls  map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{
		pages:  pages,
		delays: make(map[string]time.Duration),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	body, ok := f.pages[url]
	delay := f.delays[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errConnRefused
	}
	return []byte(body), nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeIndex reports a fixed set of URLs as indexed
type fakeIndex struct {
	indexed map[string]bool
	errs    map[string]error
}

func (i *fakeIndex) IsIndexed(_ context.Context, url string) (bool, error) {
	if err := i.errs[url]; err != nil {
		return false, err
	}
	return i.indexed[url], nil
}

func emptyIndex() *fakeIndex {
	return &fakeIndex{indexed: map[string]bool{}}
}

type countingRecorder struct {
	fetched atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	levels  atomic.Int64
}

func (r *countingRecorder) PageFetched(string, time.Duration) { r.fetched.Add(1) }
func (r *countingRecorder) PageFailed(string)                 { r.failed.Add(1) }
func (r *countingRecorder) PageSkipped(string)                { r.skipped.Add(1) }
func (r *countingRecorder) LevelCompleted(int, int)           { r.levels.Add(1) }
