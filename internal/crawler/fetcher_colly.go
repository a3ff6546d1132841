package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher with a Colly collector. Every fetch runs on
// a clone of the base collector so callbacks never leak between URLs.
type CollyFetcher struct {
	base *colly.Collector
}

// NewCollyFetcher creates a fetcher with the given per-request timeout
func NewCollyFetcher(userAgent string, timeout time.Duration) *CollyFetcher {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.MaxDepth(0), // Depth is managed by the crawler
	}
	if userAgent != "" {
		opts = append(opts, colly.UserAgent(userAgent))
	}

	c := colly.NewCollector(opts...)

	// Deduplication is owned by the crawler, not by colly's visited store
	c.AllowURLRevisit = true

	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	})
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}

	return &CollyFetcher{base: c}
}

// Fetch retrieves url and returns its body. Any 2xx response is a success,
// every other status is an error. Cancelling ctx aborts the request.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	collector := f.base.Clone()
	collector.Context = ctx
	// Every response reaches OnResponse; status is judged there
	collector.ParseHTTPErrorResponse = true

	var (
		body     []byte
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			fetchErr = fmt.Errorf("status %d: %s", r.StatusCode, http.StatusText(r.StatusCode))
			return
		}
		body = append([]byte(nil), r.Body...)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("visit failed: %w", err)
		}
		return body, nil
	}
}
