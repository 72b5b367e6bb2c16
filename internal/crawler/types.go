package crawler

import (
	"net/http"
	"time"
)

// RenderMode selects how a page is fetched.
type RenderMode string

// Render modes accepted on a crawl request.
const (
	// RenderAuto fetches statically and promotes to a headless browser when
	// the static document looks like it needs JavaScript.
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
	RenderNever  RenderMode = "never"
)

// ParseRenderMode maps a request value onto a RenderMode. Empty means auto.
func ParseRenderMode(raw string) (RenderMode, error) {
	switch RenderMode(raw) {
	case "", RenderAuto:
		return RenderAuto, nil
	case RenderAlways:
		return RenderAlways, nil
	case RenderNever:
		return RenderNever, nil
	default:
		return "", NewError(KindInvalidInput, "parse render mode", errUnknownRenderMode(raw))
	}
}

// CrawlRequest is a single crawl of one URL.
type CrawlRequest struct {
	URL         string
	Render      RenderMode
	BypassCache bool
	// RespectRobots overrides the service default when non-nil.
	RespectRobots *bool
}

// FetchRequest captures everything a Session needs to fetch a URL.
type FetchRequest struct {
	RequestID     string
	URL           string
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the raw document returned by a Session.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Link is an anchor found on the page.
type Link struct {
	Href       string `json:"href"`
	Text       string `json:"text,omitempty"`
	Title      string `json:"title,omitempty"`
	BaseDomain string `json:"base_domain,omitempty"`
}

// Links splits anchors by whether they stay on the crawled site.
type Links struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Image is an <img> reference.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Video is a <video> reference.
type Video struct {
	Src    string `json:"src"`
	Poster string `json:"poster,omitempty"`
}

// Audio is an <audio> reference.
type Audio struct {
	Src string `json:"src"`
}

// Media groups the embedded media found on the page.
type Media struct {
	Images []Image `json:"images"`
	Videos []Video `json:"videos"`
	Audios []Audio `json:"audios"`
}

// Metadata is the document-level metadata.
type Metadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Keywords    string            `json:"keywords,omitempty"`
	Author      string            `json:"author,omitempty"`
	Language    string            `json:"language,omitempty"`
	OpenGraph   map[string]string `json:"og,omitempty"`
}

// Content is everything an Extractor derives from a fetched document.
type Content struct {
	CleanedHTML           string
	Markdown              string
	FitMarkdown           string
	MarkdownWithCitations string
	ReferencesMarkdown    string
	Links                 Links
	Media                 Media
	Metadata              Metadata
}

// CrawlResult is returned under the "content" key of a successful crawl.
type CrawlResult struct {
	RequestID             string            `json:"request_id"`
	URL                   string            `json:"url"`
	Success               bool              `json:"success"`
	StatusCode            int               `json:"status_code"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	HTML                  string            `json:"html"`
	CleanedHTML           string            `json:"cleaned_html"`
	Markdown              string            `json:"markdown"`
	FitMarkdown           string            `json:"fit_markdown"`
	MarkdownWithCitations string            `json:"markdown_with_citations"`
	ReferencesMarkdown    string            `json:"references_markdown"`
	Links                 Links             `json:"links"`
	Media                 Media             `json:"media"`
	Metadata              Metadata          `json:"metadata"`
	ResponseHeaders       map[string]string `json:"response_headers,omitempty"`
	UsedHeadless          bool              `json:"used_headless"`
	DurationMs            int64             `json:"duration_ms"`
	FetchedAt             time.Time         `json:"fetched_at"`
	ContentHash           string            `json:"content_hash,omitempty"`
	BlobURI               string            `json:"blob_uri,omitempty"`
	Cached                bool              `json:"cached"`
}

// CrawlRecord is the history row persisted for every crawl attempt,
// successful or not.
type CrawlRecord struct {
	ID           string
	RequestID    string
	URL          string
	FinalURL     string
	StatusCode   int
	Success      bool
	UsedHeadless bool
	ContentType  string
	Headers      http.Header
	ContentHash  string
	BlobURI      string
	DurationMs   int64
	FetchedAt    time.Time
	ErrorKind    Kind
	ErrorText    string
}
