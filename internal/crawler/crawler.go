package crawler

import "context"

// FailureMessage is the fixed human-readable message attached to every
// crawl failure response.
const FailureMessage = "An error occurred during crawling."

// Crawler performs a single fetch-and-extract of one URL.
type Crawler interface {
	Crawl(ctx context.Context, request CrawlRequest) (CrawlResult, error)
}
