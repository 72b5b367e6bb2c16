// Package crawler defines the crawl data model, the error taxonomy, and the
// interfaces implemented by fetchers, extractors, stores, and publishers.
package crawler
