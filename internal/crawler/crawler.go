package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidRequest is returned when Crawl is called without seeds or with a
// depth below 1
var ErrInvalidRequest = errors.New("invalid crawl request")

// Recorder receives crawl progress events
type Recorder interface {
	PageFetched(url string, duration time.Duration)
	PageFailed(url string)
	PageSkipped(url string)
	LevelCompleted(depth, pages int)
}

type nopRecorder struct{}

func (nopRecorder) PageFetched(string, time.Duration) {}
func (nopRecorder) PageFailed(string)                 {}
func (nopRecorder) PageSkipped(string)                {}
func (nopRecorder) LevelCompleted(int, int)           {}

// Config holds the crawler's tunables
type Config struct {
	ConcurrentWorkers int
	RequestTimeout    time.Duration
	// CrawlTimeout bounds a whole Crawl call; zero means no deadline
	CrawlTimeout time.Duration
}

// Result is the outcome of one crawl run
type Result struct {
	RunID    string
	Frontier *Frontier
	// Skipped lists URLs not fetched because they were already indexed
	Skipped []string
	// Failed lists URLs dropped by fetch or extraction errors
	Failed []Failure
}

// Crawler drives breadth-first expansion from a seed set
type Crawler struct {
	cfg      Config
	fetcher  Fetcher
	index    Index
	recorder Recorder
	log      *logrus.Entry
	runID    string
}

// Option customizes a Crawler
type Option func(*Crawler)

// WithRecorder sets the progress recorder
func WithRecorder(r Recorder) Option {
	return func(c *Crawler) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the base log entry
func WithLogger(log *logrus.Entry) Option {
	return func(c *Crawler) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRunID fixes the run identifier instead of generating one per Crawl
func WithRunID(id string) Option {
	return func(c *Crawler) {
		c.runID = id
	}
}

// NewCrawler creates a crawler instance
func NewCrawler(cfg Config, fetcher Fetcher, index Index, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:      cfg,
		fetcher:  fetcher,
		index:    index,
		recorder: nopRecorder{},
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl fetches seeds and expands breadth-first until maxDepth levels have
// been processed or no unseen links remain. If ctx is cancelled or the crawl
// deadline passes, the partial result is returned together with the error.
func (c *Crawler) Crawl(ctx context.Context, seeds []string, maxDepth int) (*Result, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("%w: max depth must be >= 1, got %d", ErrInvalidRequest, maxDepth)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no seed URLs", ErrInvalidRequest)
	}

	if c.cfg.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CrawlTimeout)
		defer cancel()
	}

	runID := c.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &Result{
		RunID:    runID,
		Frontier: NewFrontier(),
	}
	log := c.log.WithField("run_id", result.RunID)
	index := NewDedupIndex(c.index)
	pool := NewPool(c.fetcher, index, c.cfg.ConcurrentWorkers, c.cfg.RequestTimeout, c.recorder, log)

	log.Infof("Starting crawl: %d seeds, max depth %d", len(seeds), maxDepth)

	candidates := uniqueURLs(seeds)
	for depth := 1; ; depth++ {
		if err := ctx.Err(); err != nil {
			log.Warnf("Crawl stopped before depth %d: %v", depth, err)
			return result, fmt.Errorf("crawl stopped at depth %d: %w", depth, err)
		}

		log.Infof("Depth %d: %d candidate URLs", depth, len(candidates))
		c.parseLevel(ctx, pool, result, candidates, depth, log)

		if depth >= maxDepth {
			break
		}

		candidates = index.Unattempted(result.Frontier.NextCandidates())
		if len(candidates) == 0 {
			log.Infof("No new links after depth %d, stopping", depth)
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}

	log.Infof("Crawl complete: %d pages over %d levels, %d skipped, %d failed",
		result.Frontier.Len(), result.Frontier.Depth(), len(result.Skipped), len(result.Failed))

	return result, nil
}

// parseLevel fetches one level, extracts every body and appends the level to
// the frontier
func (c *Crawler) parseLevel(ctx context.Context, pool *Pool, result *Result, urls []string, depth int, log *logrus.Entry) {
	batch := pool.FetchAll(ctx, urls)
	result.Skipped = append(result.Skipped, batch.Skipped...)
	result.Failed = append(result.Failed, batch.Failed...)

	level := make([]PageResult, 0, len(batch.Order))
	for i, u := range batch.Order {
		ex, err := Extract(batch.Bodies[u], u)
		if err != nil {
			log.Warnf("Dropping %s: %v", u, err)
			result.Failed = append(result.Failed, Failure{URL: u, Stage: StageExtract, Err: err})
			continue
		}

		log.Debugf("- %d / %d %s: %d links, %d captions", i+1, len(batch.Order), u, len(ex.Links), len(ex.Captions))
		level = append(level, PageResult{
			URL:      u,
			Depth:    depth,
			Links:    ex.Links,
			Captions: ex.Captions,
		})
	}

	result.Frontier.AppendLevel(level)
	c.recorder.LevelCompleted(depth, len(level))
}
