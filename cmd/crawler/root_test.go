package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/caption-weaver/internal/ingest"
	"github.com/alvmarrod/caption-weaver/internal/metrics"
	"github.com/alvmarrod/caption-weaver/internal/storage"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/b">b</a><img src="x.png" alt="logo"></body></html>`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
			fmt.Fprint(w, `<p>late</p>`)
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><img alt=" "><a href="/a">a</a></body></html>`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlCommandEndToEnd(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.log")
	promPath := filepath.Join(dir, "weaver.prom")

	t.Setenv("WEAVER_METRICS_PATH", metricsPath)
	t.Setenv("WEAVER_PROM_TEXTFILE_PATH", promPath)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"crawl", srv.URL + "/a", "--store", "memory", "--depth", "3"})
	require.NoError(t, cmd.Execute())

	raw, err := os.ReadFile(metricsPath)
	require.NoError(t, err)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Equal(t, "completed", snap.TerminationReason)
	require.NotEmpty(t, snap.RunID)
	require.Equal(t, 2, snap.PagesFetched)
	require.Equal(t, 2, snap.PagesIngested)
	require.Equal(t, 1, snap.WordLocations)
	require.Equal(t, 2, snap.LinksRecorded)
	require.Equal(t, 2, snap.LevelsCompleted)

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	require.Contains(t, string(prom), "weaver_pages_ingested_total")
}

func TestCrawlCommandSQLite(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "weaver.db")
	t.Setenv("WEAVER_METRICS_PATH", filepath.Join(dir, "metrics.log"))

	run := func() metrics.Snapshot {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"crawl", srv.URL + "/a", "--db", dbPath, "--depth", "2"})
		require.NoError(t, cmd.Execute())

		raw, err := os.ReadFile(filepath.Join(dir, "metrics.log"))
		require.NoError(t, err)
		var snap metrics.Snapshot
		require.NoError(t, json.Unmarshal(raw, &snap))
		return snap
	}

	first := run()
	require.Equal(t, 2, first.PagesIngested)

	// Everything is indexed now, so a second run skips the seed
	second := run()
	require.Zero(t, second.PagesFetched)
	require.Equal(t, 1, second.PagesSkipped)
	require.Zero(t, second.PagesIngested)
}

func TestCrawlCommandRequiresSeeds(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"crawl", "--store", "memory"})
	require.ErrorContains(t, cmd.Execute(), "seed url is required")
}

func readSnapshot(t *testing.T, path string) metrics.Snapshot {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	return snap
}

func TestCrawlCommandFailsWhenIngestFails(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "weaver.db")
	metricsPath := filepath.Join(dir, "metrics.log")
	t.Setenv("WEAVER_METRICS_PATH", metricsPath)

	store, err := storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TRIGGER reject_words BEFORE INSERT ON words
		BEGIN SELECT RAISE(ABORT, 'words are read-only'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"crawl", srv.URL + "/a", "--db", dbPath, "--depth", "1"})
	err = cmd.Execute()
	require.ErrorContains(t, err, "ingest incomplete")

	var ingestErr *ingest.IngestError
	require.ErrorAs(t, err, &ingestErr)
	require.Equal(t, srv.URL+"/a", ingestErr.Failed[0].URL)

	// Shutdown still ran to the end
	snap := readSnapshot(t, metricsPath)
	require.Equal(t, "completed", snap.TerminationReason)
	require.Equal(t, 1, snap.PagesRejected)
}

func TestCrawlCommandFailsOnCrawlTimeout(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.log")
	t.Setenv("WEAVER_METRICS_PATH", metricsPath)
	t.Setenv("WEAVER_CRAWL_TIMEOUT_MS", "200")
	t.Setenv("WEAVER_REQUEST_TIMEOUT_MS", "5000")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"crawl", srv.URL + "/slow", "--store", "memory"})
	err := cmd.Execute()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "crawl incomplete")

	snap := readSnapshot(t, metricsPath)
	require.Equal(t, "crawl_timeout", snap.TerminationReason)
	require.Equal(t, 1, snap.PagesFailed)
}
