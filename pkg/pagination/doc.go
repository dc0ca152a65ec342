// Package pagination provides parallel batch fetching for paginated list
// endpoints of the task API.
//
// List endpoints report paging in the envelope meta:
//
//	"meta": {"pagination": {"page": 1, "page_size": 20, "total_pages": 5, "total_count": 93, ...}}
//
// This package fetches page 1 to learn total_pages, then fetches the rest
// with a bounded worker pool so a full export does not run page by page.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(pagination.ClientFetcher{Requester: transport},
//		pagination.DefaultConfig(), logger)
//	pages, err := fetcher.FetchAll(ctx, "/tasks/", url.Values{"status": {"pending"}})
//	tasks, err := pagination.Collect[taskflow.Task](pages)
//
// The batch fetcher:
//   - Fetches the first page to determine total pages
//   - Spawns a worker pool (default 4 workers)
//   - Returns pages in page order
//   - Returns partial data together with the error when a page fails
package pagination
