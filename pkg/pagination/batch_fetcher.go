package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int

	// Timeout per page fetch
	Timeout time.Duration

	// PageSize is sent as page_size on every page (0 keeps the server default)
	PageSize int

	// MaxPages caps how many pages are fetched (0 means no cap)
	MaxPages int
}

// DefaultConfig returns a conservative configuration for the task API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		PageSize:       100,
	}
}

// PageFetcher fetches a single page and returns its items and pagination meta
type PageFetcher interface {
	FetchPage(ctx context.Context, path string, query url.Values, page int) (data json.RawMessage, p envelope.Pagination, err error)
}

// Requester sends one API request. *client.Client implements it.
type Requester interface {
	Do(ctx context.Context, req client.Request) (*client.Response, error)
}

// ClientFetcher adapts a Requester to PageFetcher using ?page= and page_size=.
type ClientFetcher struct {
	Requester Requester
	PageSize  int
}

// FetchPage implements PageFetcher.
func (f ClientFetcher) FetchPage(ctx context.Context, path string, query url.Values, page int) (json.RawMessage, envelope.Pagination, error) {
	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("page", strconv.Itoa(page))
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}

	resp, err := f.Requester.Do(ctx, client.Request{Method: http.MethodGet, Path: path, Query: q})
	if err != nil {
		return nil, envelope.DefaultPagination(), err
	}
	p, _ := resp.Meta.Pagination()
	return resp.Data, p, nil
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Data       json.RawMessage
	Error      error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config, logger zerolog.Logger) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if cf, ok := fetcher.(ClientFetcher); ok && cf.PageSize == 0 {
		cf.PageSize = config.PageSize
		fetcher = cf
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// FetchAll fetches every page of path. Page 1 is fetched first to learn
// total_pages from the response meta; the remaining pages are fetched by a
// worker pool. Pages are returned in order. On a worker failure the pages
// fetched so far are returned with the error; a missing page leaves a nil
// slot.
func (bf *BatchFetcher) FetchAll(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	start := time.Now()

	firstPage, p, err := bf.fetcher.FetchPage(ctx, path, query, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	totalPages := p.TotalPages
	if bf.config.MaxPages > 0 && totalPages > bf.config.MaxPages {
		totalPages = bf.config.MaxPages
	}

	bf.logger.Debug().
		Str("path", path).
		Int("total_pages", totalPages).
		Int("total_count", p.TotalCount).
		Msg("Starting parallel page fetch")

	pages := make([]json.RawMessage, totalPages)
	pages[0] = firstPage

	// Single page optimization
	if totalPages <= 1 {
		return pages[:1], nil
	}

	pageQueue := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	pageResults := make(chan PageResult, totalPages-1)
	errs := make(chan error, bf.config.MaxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, path, query, pageQueue, pageResults, errs, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
		close(errs)
	}()

	fetched := 1
	for result := range pageResults {
		pages[result.PageNumber-1] = result.Data
		fetched++
	}

	if err, ok := <-errs; ok && err != nil {
		bf.logger.Warn().
			Err(err).
			Int("fetched_pages", fetched).
			Int("total_pages", totalPages).
			Msg("Worker error - returning partial results")
		return pages, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetched, totalPages, err)
	}
	if err := ctx.Err(); err != nil && fetched < totalPages {
		return pages, fmt.Errorf("fetch cancelled (partial data: %d/%d pages): %w", fetched, totalPages, err)
	}

	bf.logger.Debug().
		Str("path", path).
		Int("pages", fetched).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return pages, nil
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, path string, query url.Values, pageQueue <-chan int, results chan<- PageResult, errs chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			return
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		data, _, err := bf.fetcher.FetchPage(pageCtx, path, query, pageNum)
		cancel()

		if err != nil {
			bf.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")

			// Non-blocking error send
			select {
			case errs <- fmt.Errorf("page %d: %w", pageNum, err):
			default:
			}
			return
		}

		results <- PageResult{PageNumber: pageNum, Data: data}
	}
}

// Collect decodes each page as a JSON array of T and concatenates them.
// Nil pages (failed fetches) are skipped.
func Collect[T any](pages []json.RawMessage) ([]T, error) {
	var out []T
	for i, page := range pages {
		if len(page) == 0 {
			continue
		}
		var items []T
		if err := json.Unmarshal(page, &items); err != nil {
			return out, fmt.Errorf("decode page %d: %w", i+1, err)
		}
		out = append(out, items...)
	}
	return out, nil
}
