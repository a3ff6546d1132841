package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot is the run summary written to the metrics file
type Snapshot struct {
	RunID             string    `json:"run_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time,omitempty"`
	TerminationReason string    `json:"termination_reason,omitempty"`
	LevelsCompleted   int       `json:"levels_completed"`
	PagesFetched      int       `json:"pages_fetched"`
	PagesFailed       int       `json:"pages_failed"`
	PagesSkipped      int       `json:"pages_skipped"`
	PagesIngested     int       `json:"pages_ingested"`
	PagesRejected     int       `json:"pages_rejected"`
	WordLocations     int       `json:"word_locations"`
	LinksRecorded     int       `json:"links_recorded"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	FailedURLs        []string  `json:"failed_urls,omitempty"`
	SkippedURLs       []string  `json:"skipped_urls,omitempty"`
	RejectedURLs      []string  `json:"rejected_urls,omitempty"`
}

// Tracker holds and manages crawl metrics. It records both fetch and ingest
// events and mirrors every counter into a private Prometheus registry.
type Tracker struct {
	mu               sync.Mutex
	data             Snapshot
	totalFetchTimeMs int64
	fetchCount       int

	registry      *prometheus.Registry
	pagesFetched  prometheus.Counter
	pagesFailed   prometheus.Counter
	pagesSkipped  prometheus.Counter
	pagesIngested prometheus.Counter
	pagesRejected prometheus.Counter
	wordLocations prometheus.Counter
	linksRecorded prometheus.Counter
	levels        prometheus.Gauge
	fetchDuration prometheus.Histogram
}

// NewTracker creates a new metrics tracker for the given run
func NewTracker(runID string) *Tracker {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"run_id": runID}

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "weaver",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Tracker{
		data: Snapshot{
			RunID:     runID,
			StartTime: time.Now(),
		},
		registry:      registry,
		pagesFetched:  counter("pages_fetched_total", "Pages fetched successfully."),
		pagesFailed:   counter("pages_failed_total", "Pages dropped after a fetch or extract failure."),
		pagesSkipped:  counter("pages_skipped_total", "Pages skipped because they were already indexed."),
		pagesIngested: counter("pages_ingested_total", "Pages committed to the graph store."),
		pagesRejected: counter("pages_rejected_total", "Pages rolled back during ingest."),
		wordLocations: counter("word_locations_total", "Word locations written."),
		linksRecorded: counter("links_recorded_total", "New links written."),
		levels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "weaver",
			Name:        "levels_completed",
			Help:        "Frontier levels completed.",
			ConstLabels: labels,
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "weaver",
			Name:        "fetch_duration_seconds",
			Help:        "Duration of successful page fetches.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the tracker's Prometheus registry
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// PageFetched records a successful fetch and its duration
func (t *Tracker) PageFetched(_ string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFetched++
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	t.pagesFetched.Inc()
	t.fetchDuration.Observe(duration.Seconds())
}

// PageFailed increments the failed fetch counter
func (t *Tracker) PageFailed(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFailed++
	t.data.FailedURLs = append(t.data.FailedURLs, url)
	t.pagesFailed.Inc()
}

// PageSkipped increments the already-indexed counter
func (t *Tracker) PageSkipped(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesSkipped++
	t.data.SkippedURLs = append(t.data.SkippedURLs, url)
	t.pagesSkipped.Inc()
}

// LevelCompleted records that a frontier level was appended
func (t *Tracker) LevelCompleted(depth, _ int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if depth > t.data.LevelsCompleted {
		t.data.LevelsCompleted = depth
		t.levels.Set(float64(depth))
	}
}

// PageIngested records a committed page with its word locations and new links
func (t *Tracker) PageIngested(_ string, words, links int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesIngested++
	t.data.WordLocations += words
	t.data.LinksRecorded += links
	t.pagesIngested.Inc()
	t.wordLocations.Add(float64(words))
	t.linksRecorded.Add(float64(links))
}

// PageRejected records a page whose ingest was rolled back
func (t *Tracker) PageRejected(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesRejected++
	t.data.RejectedURLs = append(t.data.RejectedURLs, url)
	t.pagesRejected.Inc()
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average fetch time
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	snapshot.FailedURLs = sortedCopy(t.data.FailedURLs)
	snapshot.SkippedURLs = sortedCopy(t.data.SkippedURLs)
	snapshot.RejectedURLs = sortedCopy(t.data.RejectedURLs)
	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	jsonData, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// WriteTextfile exports the Prometheus counters in text exposition format,
// for pickup by a node_exporter textfile collector
func (t *Tracker) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, t.registry); err != nil {
		return fmt.Errorf("failed to write prometheus textfile: %w", err)
	}
	return nil
}

// LogProgress formats current metrics for the console
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Levels: %d | Pages: %d fetched, %d failed, %d skipped | Ingest: %d committed, %d rejected | Words: %d | Links: %d",
		t.data.LevelsCompleted,
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.PagesSkipped,
		t.data.PagesIngested,
		t.data.PagesRejected,
		t.data.WordLocations,
		t.data.LinksRecorded,
	)
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
