package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alvmarrod/caption-weaver/internal/config"
	"github.com/alvmarrod/caption-weaver/internal/crawler"
	"github.com/alvmarrod/caption-weaver/internal/ingest"
	"github.com/alvmarrod/caption-weaver/internal/memory"
	"github.com/alvmarrod/caption-weaver/internal/metrics"
	"github.com/alvmarrod/caption-weaver/internal/storage"
	"github.com/alvmarrod/caption-weaver/internal/version"
)

// Termination reasons written to the metrics file
const (
	reasonCompleted    = "completed"
	reasonSignal       = "signal"
	reasonCrawlTimeout = "crawl_timeout"
	reasonForcedExit   = "forced_exit"
)

const progressInterval = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "weaver",
		Short:   "Caption Weaver builds a word/page/link graph from image captions",
		Version: version.Version,
	}
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func newCrawlCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "crawl [seed-url ...]",
		Short: "Crawl from seed URLs and ingest captions and links",
		Long: `Fetches the seed URLs, follows links breadth-first up to the configured
depth and stores every image caption and outbound link in the graph store.
Seeds given as arguments replace seed_urls from the config file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			for key, flag := range map[string]string{
				"max_depth":    "depth",
				"store_driver": "store",
				"db_path":      "db",
			} {
				if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
					if err := v.BindPFlag(key, f); err != nil {
						return fmt.Errorf("failed to bind --%s: %w", flag, err)
					}
				}
			}
			if len(args) > 0 {
				v.Set("seed_urls", args)
			}

			cfg, err := config.LoadConfig(v, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is ./config.json when present)")
	cmd.Flags().Int("depth", 0, "maximum crawl depth (overrides max_depth)")
	cmd.Flags().String("store", "", "store driver: sqlite3, postgres or memory")
	cmd.Flags().String("db", "", "SQLite database path")

	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			DSN:      cfg.PostgresDSN,
			MaxConns: int32(cfg.ConcurrentWorkers),
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return memory.NewMemoryGraph(), nil
	default:
		store, err := storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func runCrawl(parent context.Context, cfg *config.Config) error {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	logrus.Infof("Caption Weaver v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: seeds=%d, depth=%d, workers=%d, store=%s",
		len(cfg.SeedURLs), cfg.MaxDepth, cfg.ConcurrentWorkers, cfg.StoreDriver)

	// Schema bootstrap failure is fatal
	store, err := openStore(parent, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	runID := uuid.NewString()
	log := logrus.WithField("run_id", runID)
	tracker := metrics.NewTracker(runID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// First signal cancels the crawl, a second one forces exit
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var wg sync.WaitGroup
	stopBackground := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			log.Infof("Received signal: %v, stopping crawl", sig)
			cancel()
		case <-stopBackground:
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
			if err := tracker.WriteToFile(cfg.MetricsPath, reasonForcedExit); err != nil {
				log.Errorf("Emergency metrics save failed: %v", err)
			}
			os.Exit(1)
		case <-stopBackground:
		}
	}()

	// Progress logger
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				log.Info(tracker.LogProgress())
			case <-stopBackground:
				return
			}
		}
	}()

	c := crawler.NewCrawler(
		crawler.Config{
			ConcurrentWorkers: cfg.ConcurrentWorkers,
			RequestTimeout:    cfg.RequestTimeout(),
			CrawlTimeout:      cfg.CrawlTimeout(),
		},
		crawler.NewCollyFetcher(cfg.UserAgent, cfg.RequestTimeout()),
		store,
		crawler.WithRecorder(tracker),
		crawler.WithLogger(logrus.NewEntry(logrus.StandardLogger())),
		crawler.WithRunID(runID),
	)

	result, crawlErr := c.Crawl(ctx, cfg.SeedURLs, cfg.MaxDepth)
	if result == nil {
		close(stopBackground)
		wg.Wait()
		store.Close()
		return crawlErr
	}

	terminationReason := reasonCompleted
	switch {
	case errors.Is(crawlErr, context.DeadlineExceeded):
		terminationReason = reasonCrawlTimeout
		log.Warnf("Crawl deadline reached, ingesting partial results: %v", crawlErr)
	case crawlErr != nil:
		terminationReason = reasonSignal
		log.Warnf("Crawl interrupted, ingesting partial results: %v", crawlErr)
	}

	log.Info("Initiating graceful shutdown...")
	log.Info("Step 1/5: Stopping background goroutines...")

	close(stopBackground)
	bgDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(bgDone)
	}()

	select {
	case <-bgDone:
		log.Info("All background tasks completed")
	case <-time.After(5 * time.Second):
		log.Warn("Background tasks timeout (5s), continuing with shutdown")
	}

	log.Info("Step 2/5: Ingesting crawl results...")

	// Partial results are still committed after cancellation
	ingestor := ingest.NewIngestor(store, tracker, log)
	report, ingestRunErr := ingestor.Ingest(context.Background(), result.Frontier)
	var ingestErr *ingest.IngestError
	switch {
	case errors.As(ingestRunErr, &ingestErr):
		log.Errorf("%d pages could not be ingested", len(ingestErr.Failed))
	case ingestRunErr != nil:
		log.Errorf("Ingest aborted: %v", ingestRunErr)
	default:
		log.Infof("Ingested %d pages", len(report.Committed))
	}

	log.Info("Step 3/5: Collecting graph statistics...")

	if stats, err := store.Stats(context.Background()); err != nil {
		log.Errorf("Failed to read graph statistics: %v", err)
	} else {
		log.WithFields(logrus.Fields{
			"words":          stats.Words,
			"pages":          stats.Pages,
			"indexed_pages":  stats.IndexedPages,
			"word_locations": stats.WordLocations,
			"links":          stats.Links,
		}).Info("Graph statistics")
	}

	log.Info("Step 4/5: Writing final metrics...")

	log.Info("Final stats: " + tracker.LogProgress())

	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		log.Errorf("Failed to write metrics: %v", err)
	} else {
		log.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if cfg.PromTextfilePath != "" {
		if err := tracker.WriteTextfile(cfg.PromTextfilePath); err != nil {
			log.Errorf("Failed to write prometheus textfile: %v", err)
		} else {
			log.Infof("Prometheus textfile written to %s", cfg.PromTextfilePath)
		}
	}

	log.Info("Step 5/5: Closing store...")

	if err := store.Close(); err != nil {
		log.Errorf("Failed to close store: %v", err)
	}

	log.Info("Graceful shutdown complete. Goodbye!")

	// An interrupted crawl or a partial ingest still exits non-zero
	var runErr error
	if crawlErr != nil {
		runErr = fmt.Errorf("crawl incomplete (%s): %w", terminationReason, crawlErr)
	}
	if ingestRunErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("ingest incomplete: %w", ingestRunErr))
	}
	return runErr
}
