// Package ingest commits crawl results into the graph store.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/caption-weaver/internal/crawler"
	"github.com/alvmarrod/caption-weaver/internal/storage"
)

// Recorder receives per-page ingest events
type Recorder interface {
	PageIngested(url string, words, links int)
	PageRejected(url string)
}

type nopRecorder struct{}

func (nopRecorder) PageIngested(string, int, int) {}
func (nopRecorder) PageRejected(string)           {}

// PageFailure is a page whose unit of work was rolled back
type PageFailure struct {
	URL string
	Err error
}

// Report summarizes one Ingest call
type Report struct {
	Committed     []string
	Failed        []PageFailure
	WordLocations int
	LinksAdded    int
}

// IngestError lists every page that could not be committed
type IngestError struct {
	Failed []PageFailure
}

func (e *IngestError) Error() string {
	urls := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		urls = append(urls, f.URL)
	}
	return fmt.Sprintf("failed to ingest %d page(s): %s", len(e.Failed), strings.Join(urls, ", "))
}

// Unwrap exposes the per-page causes to errors.Is and errors.As
func (e *IngestError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// Ingestor writes frontiers into a store, one transaction per page
type Ingestor struct {
	store    storage.Store
	recorder Recorder
	log      *logrus.Entry
}

// NewIngestor creates an ingestor over store. recorder and log may be nil.
func NewIngestor(store storage.Store, recorder Recorder, log *logrus.Entry) *Ingestor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingestor{
		store:    store,
		recorder: recorder,
		log:      log,
	}
}

// Ingest commits every frontier entry in level order. A failing page is
// rolled back and reported while the remaining pages are still processed.
// A cancelled ctx stops the ingest and returns the ctx error.
func (in *Ingestor) Ingest(ctx context.Context, frontier *crawler.Frontier) (*Report, error) {
	report := &Report{}
	entries := frontier.Entries()
	startTime := time.Now()

	in.log.Infof("Ingesting %d pages...", len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingest interrupted: %w", err)
		}

		words, links, err := in.ingestPage(ctx, entry)
		if err != nil {
			in.log.Errorf("Failed to ingest %s, rolled back: %v", entry.URL, err)
			report.Failed = append(report.Failed, PageFailure{URL: entry.URL, Err: err})
			in.recorder.PageRejected(entry.URL)
			continue
		}

		report.Committed = append(report.Committed, entry.URL)
		report.WordLocations += words
		report.LinksAdded += links
		in.recorder.PageIngested(entry.URL, words, links)
	}

	in.log.Infof("Ingest complete: %d committed, %d failed, %d word locations, %d new links in %v",
		len(report.Committed), len(report.Failed), report.WordLocations, report.LinksAdded, time.Since(startTime))

	if len(report.Failed) > 0 {
		return report, &IngestError{Failed: report.Failed}
	}
	return report, nil
}

// ingestPage writes one page, its captions and its outbound links as a
// single unit of work
func (in *Ingestor) ingestPage(ctx context.Context, entry crawler.PageResult) (words, links int, err error) {
	err = in.store.InTx(ctx, func(tx storage.Tx) error {
		words, links = 0, 0

		pageID, err := tx.UpsertPage(ctx, entry.URL, true)
		if err != nil {
			return err
		}

		for _, caption := range entry.Captions {
			wordID, err := tx.UpsertWord(ctx, caption)
			if err != nil {
				return err
			}
			if err := tx.InsertWordLocation(ctx, wordID, pageID, storage.PlaceholderLocation); err != nil {
				return err
			}
			words++
		}

		for _, target := range entry.Links {
			// Resolve the target to a page identity so links keep referential integrity
			targetID, err := tx.UpsertPage(ctx, target, false)
			if err != nil {
				return err
			}

			exists, err := tx.LinkExists(ctx, pageID, targetID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			if err := tx.InsertLink(ctx, pageID, targetID); err != nil {
				return err
			}
			links++
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return words, links, nil
}
