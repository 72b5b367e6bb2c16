// Package extract turns fetched HTML documents into the structured content
// returned by a crawl: cleaned HTML, Markdown, links, media and metadata.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

var errUnsupportedContentType = errors.New("unsupported content type")

// Tags dropped from cleaned HTML and Markdown regardless of configuration.
var defaultExcludedTags = []string{
	"script", "style", "noscript", "template", "iframe", "svg", "canvas", "object", "embed",
}

// Config tunes extraction.
type Config struct {
	// WordCountThreshold drops Markdown paragraphs with fewer words.
	WordCountThreshold int
	// ExcludedTags are removed in addition to the built-in set.
	ExcludedTags []string
	// FitMarkdown enables readability-based main-content Markdown.
	FitMarkdown bool
}

// Extractor implements crawler.Extractor with goquery.
type Extractor struct {
	cfg      Config
	excluded string
	markdown *markdownRenderer
	logger   *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WordCountThreshold < 0 {
		cfg.WordCountThreshold = 0
	}
	tags := append([]string(nil), defaultExcludedTags...)
	for _, tag := range cfg.ExcludedTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && tag != "body" && tag != "html" {
			tags = append(tags, tag)
		}
	}
	return &Extractor{
		cfg:      cfg,
		excluded: strings.Join(tags, ", "),
		markdown: newMarkdownRenderer(),
		logger:   logger.Named("extract"),
	}
}

// Extract parses page.Body and derives every content field.
func (e *Extractor) Extract(ctx context.Context, page crawler.FetchResponse) (crawler.Content, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Content{}, crawler.Wrap(crawler.KindTimeout, "extract", err)
	}
	if err := checkContentType(page); err != nil {
		return crawler.Content{}, err
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return crawler.Content{}, crawler.NewError(crawler.KindExtraction, "parse page url", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.Content{}, crawler.NewError(crawler.KindExtraction, "parse html", err)
	}
	doc.Url = base

	content := crawler.Content{
		Metadata: extractMetadata(doc),
		Links:    extractLinks(doc, base),
		Media:    extractMedia(doc, base),
	}

	body := cleanDocument(doc, e.excluded)
	content.CleanedHTML, err = cleanedHTML(body)
	if err != nil {
		return crawler.Content{}, crawler.NewError(crawler.KindExtraction, "render cleaned html", err)
	}

	content.Markdown, err = e.markdown.render(body, base, renderOptions{minWords: e.cfg.WordCountThreshold})
	if err != nil {
		return crawler.Content{}, crawler.NewError(crawler.KindExtraction, "render markdown", err)
	}

	cited, err := e.markdown.renderCitations(body, base, e.cfg.WordCountThreshold)
	if err != nil {
		return crawler.Content{}, crawler.NewError(crawler.KindExtraction, "render citations", err)
	}
	content.MarkdownWithCitations = cited.markdown
	content.ReferencesMarkdown = cited.references

	if e.cfg.FitMarkdown {
		fit, err := e.fitMarkdown(page.Body, base)
		if err != nil {
			e.logger.Debug("fit markdown unavailable", zap.String("url", page.URL), zap.Error(err))
		}
		content.FitMarkdown = fit
	}

	return content, nil
}

// checkContentType rejects documents that are not HTML. A missing header is
// sniffed from the body.
func checkContentType(page crawler.FetchResponse) error {
	raw := ""
	if page.Headers != nil {
		raw = page.Headers.Get("Content-Type")
	}
	if raw == "" {
		if len(page.Body) == 0 {
			return nil
		}
		raw = http.DetectContentType(page.Body)
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return crawler.NewError(crawler.KindExtraction, "check content type",
			fmt.Errorf("%w: %q", errUnsupportedContentType, raw))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return nil
	default:
		return crawler.NewError(crawler.KindExtraction, "check content type",
			fmt.Errorf("%w: %s", errUnsupportedContentType, mediaType))
	}
}
