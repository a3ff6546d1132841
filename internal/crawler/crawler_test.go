package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ConcurrentWorkers: 4,
		RequestTimeout:    time.Second,
	}
}

func TestCrawlTwoLevels(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://b.example/">B</a><img src="l.png" alt="logo">`,
		"https://b.example/": `<p>nothing here</p>`,
	})
	rec := &countingRecorder{}
	c := NewCrawler(testConfig(), fetcher, emptyIndex(), WithRecorder(rec))

	result, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)

	a, ok := result.Frontier.Get("https://a.example/")
	require.True(t, ok)
	require.Equal(t, 1, a.Depth)
	require.Equal(t, []string{"https://b.example/"}, a.Links)
	require.Equal(t, []string{"logo"}, a.Captions)

	b, ok := result.Frontier.Get("https://b.example/")
	require.True(t, ok)
	require.Equal(t, 2, b.Depth)
	require.Empty(t, b.Links)

	require.Equal(t, 1, fetcher.callCount("https://a.example/"))
	require.Equal(t, 1, fetcher.callCount("https://b.example/"))
	require.EqualValues(t, 2, rec.levels.Load())
}

func TestCrawlDepthOneDoesNotExpand(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://b.example/">B</a>`,
		"https://c.example/": `<a href="https://d.example/">D</a>`,
	})
	c := NewCrawler(testConfig(), fetcher, emptyIndex())

	seeds := []string{"https://a.example/", "https://c.example/"}
	result, err := c.Crawl(context.Background(), seeds, 1)
	require.NoError(t, err)

	require.LessOrEqual(t, fetcher.totalCalls(), len(seeds))
	require.Zero(t, fetcher.callCount("https://b.example/"))
	require.Zero(t, fetcher.callCount("https://d.example/"))
	require.Equal(t, 1, result.Frontier.Depth())
	require.Equal(t, 2, result.Frontier.Len())
}

func TestCrawlDuplicateSeedFetchedOnce(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://dup.example/": `<img alt="dup">`,
	})
	c := NewCrawler(testConfig(), fetcher, emptyIndex())

	result, err := c.Crawl(context.Background(), []string{"https://dup.example/", "https://dup.example/"}, 2)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount("https://dup.example/"))
	require.Equal(t, 1, result.Frontier.Len())
}

func TestCrawlCycleTerminates(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://b.example/">B</a>`,
		"https://b.example/": `<a href="https://a.example/">A</a><a href="https://c.example/">C</a>`,
		"https://c.example/": `<a href="https://a.example/">A</a><a href="https://b.example/">B</a>`,
	})
	c := NewCrawler(testConfig(), fetcher, emptyIndex())

	result, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 10)
	require.NoError(t, err)

	require.Equal(t, 3, result.Frontier.Len())
	require.Equal(t, 3, result.Frontier.Depth())
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		require.Equal(t, 1, fetcher.callCount(u), u)
	}
}

func TestCrawlSkipsIndexedPages(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://b.example/">B</a><a href="https://c.example/">C</a>`,
		"https://b.example/": `<p>b</p>`,
		"https://c.example/": `<p>c</p>`,
	})
	index := &fakeIndex{indexed: map[string]bool{"https://b.example/": true}}
	c := NewCrawler(testConfig(), fetcher, index)

	result, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 2)
	require.NoError(t, err)

	require.Equal(t, []string{"https://b.example/"}, result.Skipped)
	require.Zero(t, fetcher.callCount("https://b.example/"))
	_, ok := result.Frontier.Get("https://b.example/")
	require.False(t, ok)
	_, ok = result.Frontier.Get("https://c.example/")
	require.True(t, ok)
}

func TestCrawlReportsFailures(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://gone.example/">gone</a>`,
	})
	c := NewCrawler(testConfig(), fetcher, emptyIndex())

	result, err := c.Crawl(context.Background(), []string{"https://a.example/", "https://down.example/"}, 2)
	require.NoError(t, err)

	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, f.URL)
	}
	require.ElementsMatch(t, []string{"https://down.example/", "https://gone.example/"}, failed)
	require.Equal(t, 1, result.Frontier.Len())
}

func TestCrawlRejectsInvalidRequests(t *testing.T) {
	c := NewCrawler(testConfig(), newFakeFetcher(nil), emptyIndex())

	_, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 0)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Crawl(context.Background(), nil, 1)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCrawlCancelledReturnsPartialResult(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{"https://a.example/": `<p>a</p>`})
	c := NewCrawler(testConfig(), fetcher, emptyIndex())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Crawl(ctx, []string{"https://a.example/"}, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	require.Zero(t, result.Frontier.Len())
	require.Zero(t, fetcher.totalCalls())
}

func TestCrawlDeadlineKeepsCompletedLevels(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"https://a.example/": `<a href="https://slow.example/">slow</a>`,
		"https://slow.example/": `<p>slow</p>`,
	})
	fetcher.delays["https://slow.example/"] = 5 * time.Second

	cfg := testConfig()
	cfg.RequestTimeout = 0
	cfg.CrawlTimeout = 200 * time.Millisecond
	c := NewCrawler(cfg, fetcher, emptyIndex())

	start := time.Now()
	result, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)

	_, ok := result.Frontier.Get("https://a.example/")
	require.True(t, ok)
	_, ok = result.Frontier.Get("https://slow.example/")
	require.False(t, ok)
}

func TestCrawlUsesFixedRunID(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{"https://a.example/": `<p>a</p>`})
	c := NewCrawler(testConfig(), fetcher, emptyIndex(), WithRunID("run-42"))

	result, err := c.Crawl(context.Background(), []string{"https://a.example/"}, 1)
	require.NoError(t, err)
	require.Equal(t, "run-42", result.RunID)
}
