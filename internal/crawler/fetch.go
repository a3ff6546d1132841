package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Failure stages reported in Failure.Stage
const (
	StageIndex   = "index"
	StageFetch   = "fetch"
	StageExtract = "extract"
)

// Fetcher retrieves the raw body of a single URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Failure describes a URL dropped from the crawl
type Failure struct {
	URL   string
	Stage string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.URL, f.Err)
}

// Batch is the outcome of fetching one BFS level
type Batch struct {
	// Bodies maps every successfully fetched URL to its body
	Bodies map[string][]byte
	// Order lists the keys of Bodies in input order
	Order   []string
	Skipped []string
	Failed  []Failure
}

// fetchOutcome is the message each fetch task sends to the coordinator
type fetchOutcome struct {
	url      string
	body     []byte
	err      error
	stage    string
	skipped  bool
	duration time.Duration
}

// Pool fetches a batch of URLs concurrently. Each task is isolated: its
// failure only removes its own URL from the batch.
type Pool struct {
	fetcher     Fetcher
	index       *DedupIndex
	concurrency int
	timeout     time.Duration
	recorder    Recorder
	log         *logrus.Entry
}

// NewPool creates a fetch pool bound to a run-scoped index
func NewPool(fetcher Fetcher, index *DedupIndex, concurrency int, timeout time.Duration, recorder Recorder, log *logrus.Entry) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		fetcher:     fetcher,
		index:       index,
		concurrency: concurrency,
		timeout:     timeout,
		recorder:    recorder,
		log:         log,
	}
}

// FetchAll fetches every URL not yet attempted in this run and not already
// indexed. It returns once all tasks have settled.
func (p *Pool) FetchAll(ctx context.Context, urls []string) Batch {
	batch := Batch{
		Bodies: make(map[string][]byte),
	}

	pending := make([]string, 0, len(urls))
	for _, u := range uniqueURLs(urls) {
		if p.index.MarkAttempted(u) {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		return batch
	}

	results := make(chan fetchOutcome, len(pending))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, u := range pending {
		g.Go(func() error {
			results <- p.fetchOne(ctx, u)
			return nil
		})
	}
	g.Wait()
	close(results)

	outcomes := make(map[string]fetchOutcome, len(pending))
	for o := range results {
		outcomes[o.url] = o
	}

	for _, u := range pending {
		o := outcomes[u]
		switch {
		case o.skipped:
			p.log.Debugf("Skipping %s: already indexed", u)
			batch.Skipped = append(batch.Skipped, u)
			p.recorder.PageSkipped(u)
		case o.err != nil:
			p.log.Warnf("Dropping %s (%s): %v", u, o.stage, o.err)
			batch.Failed = append(batch.Failed, Failure{URL: u, Stage: o.stage, Err: o.err})
			p.recorder.PageFailed(u)
		default:
			batch.Bodies[u] = o.body
			batch.Order = append(batch.Order, u)
			p.recorder.PageFetched(u, o.duration)
		}
	}

	return batch
}

func (p *Pool) fetchOne(ctx context.Context, url string) fetchOutcome {
	if err := ctx.Err(); err != nil {
		return fetchOutcome{url: url, err: err, stage: StageFetch}
	}

	indexed, err := p.index.IsIndexed(ctx, url)
	if err != nil {
		return fetchOutcome{url: url, err: err, stage: StageIndex}
	}
	if indexed {
		return fetchOutcome{url: url, skipped: true}
	}

	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := p.fetcher.Fetch(fetchCtx, url)
	duration := time.Since(start)
	if err != nil {
		return fetchOutcome{url: url, err: err, stage: StageFetch, duration: duration}
	}

	domain, _ := ExtractDomain(url)
	p.log.WithField("domain", domain).Infof("Fetched %s (%d bytes, %v)", url, len(body), duration)

	return fetchOutcome{url: url, body: body, duration: duration}
}
