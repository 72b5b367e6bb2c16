package crawler

import (
	"context"
	"io"
	"time"
)

// SessionProvider opens a scoped crawler session. Every successful Open must
// be paired with Session.Close.
type SessionProvider interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a browser or collector scoped to a single crawl.
type Session interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
	Close() error
}

// HeadlessDetector decides whether a static response should be re-fetched
// with a headless browser.
type HeadlessDetector interface {
	ShouldPromote(static FetchResponse) bool
}

// Extractor turns a fetched document into structured content.
type Extractor interface {
	Extract(ctx context.Context, page FetchResponse) (Content, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore persists crawl history.
type RecordStore interface {
	StoreRecord(ctx context.Context, record CrawlRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultCache stores recent crawl results keyed by request shape.
type ResultCache interface {
	Get(ctx context.Context, key string) (CrawlResult, bool, error)
	Set(ctx context.Context, key string, result CrawlResult) error
}

// Limiter paces outbound fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
