// Package service runs the single-URL crawl pipeline behind POST /crawl:
// validate, open a scoped session, fetch, extract, then hand the result to
// the optional sinks.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/clock/system"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/hash/sha256"
	"github.com/JakeFAU/pagecrawl/internal/id/uuid"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

var errHeadlessUnavailable = errors.New("headless rendering is disabled on this server")

// Config controls Service behavior.
type Config struct {
	// Timeout bounds a whole crawl, sessions included.
	Timeout time.Duration
	// SinkTimeout bounds each best-effort sink write.
	SinkTimeout   time.Duration
	RespectRobots bool
	DefaultRender crawler.RenderMode
	ContentType   string
	BlobPrefix    string
	Topic         string
	Headers       http.Header
	// BlockedDomains are host patterns that are never fetched.
	BlockedDomains []string
}

// Dependencies are the collaborators of a Service. Static and Extractor are
// required; everything else is optional.
type Dependencies struct {
	Static    crawler.SessionProvider
	Headless  crawler.SessionProvider
	Detector  crawler.HeadlessDetector
	Extractor crawler.Extractor
	Limiter   crawler.Limiter
	Blobs     crawler.BlobStore
	Records   crawler.RecordStore
	Publisher crawler.Publisher
	Cache     crawler.ResultCache
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Service implements crawler.Crawler.
type Service struct {
	deps      Dependencies
	cfg       Config
	blocklist *crawler.DomainBlocklist
	logger    *zap.Logger
}

var _ crawler.Crawler = (*Service)(nil)

// New constructs a Service.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Static == nil {
		return nil, errors.New("static session provider is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	if cfg.DefaultRender == "" {
		cfg.DefaultRender = crawler.RenderAuto
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Service{
		deps:      deps,
		cfg:       cfg,
		blocklist: crawler.NewDomainBlocklist(cfg.BlockedDomains),
		logger:    logger.Named("service"),
	}, nil
}

// Crawl fetches and extracts one URL.
func (s *Service) Crawl(ctx context.Context, request crawler.CrawlRequest) (crawler.CrawlResult, error) {
	start := time.Now()
	result, bodyLen, err := s.crawl(ctx, request)
	outcome := "success"
	switch {
	case err == nil:
	case crawler.Canceled(err):
		outcome = "canceled"
	default:
		outcome = string(crawler.KindOf(err))
	}
	metrics.ObserveCrawl(request.URL, outcome, bodyLen, time.Since(start))
	return result, err
}

func (s *Service) crawl(ctx context.Context, request crawler.CrawlRequest) (crawler.CrawlResult, int, error) {
	target, err := crawler.ValidateURL(request.URL)
	if err != nil {
		return crawler.CrawlResult{}, 0, err
	}
	if s.blocklist.Blocks(target.Hostname()) {
		return crawler.CrawlResult{}, 0, crawler.NewError(crawler.KindBlocked, "check domain",
			fmt.Errorf("domain %s is blocked", target.Hostname()))
	}
	mode := request.Render
	if mode == "" {
		mode = s.cfg.DefaultRender
	}
	if mode, err = crawler.ParseRenderMode(string(mode)); err != nil {
		return crawler.CrawlResult{}, 0, err
	}
	respectRobots := s.cfg.RespectRobots
	if request.RespectRobots != nil {
		respectRobots = *request.RespectRobots
	}
	requestID, err := s.deps.IDs.NewID()
	if err != nil {
		return crawler.CrawlResult{}, 0, crawler.NewError(crawler.KindInternal, "generate request id", err)
	}
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("url", target.String()))

	cacheKey := s.cacheKey(mode, respectRobots, target)
	if cached, ok := s.lookupCache(ctx, logger, cacheKey, request.BypassCache); ok {
		cached.RequestID = requestID
		cached.Cached = true
		logger.Debug("served from cache")
		return cached, 0, nil
	}

	crawlCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(crawlCtx, target.String()); err != nil {
			return crawler.CrawlResult{}, 0, err
		}
	}

	fetchedAt := s.deps.Clock.Now()
	page, err := s.fetch(crawlCtx, logger, mode, crawler.FetchRequest{
		RequestID:     requestID,
		URL:           target.String(),
		Headers:       s.cfg.Headers,
		RespectRobots: respectRobots,
	})
	if err != nil {
		if crawler.Canceled(err) {
			logger.Info("crawl canceled", zap.Error(err))
			return crawler.CrawlResult{}, 0, err
		}
		logger.Warn("fetch failed", zap.String("kind", string(crawler.KindOf(err))), zap.Error(err))
		s.storeRecord(ctx, logger, failureRecord(requestID, target.String(), fetchedAt, err))
		return crawler.CrawlResult{}, 0, err
	}

	result := newResult(requestID, page, fetchedAt)
	content, err := s.deps.Extractor.Extract(crawlCtx, page)
	switch {
	case err == nil:
		applyContent(&result, content)
	case result.Success:
		err = crawler.Wrap(crawler.KindExtraction, "extract", err)
		logger.Warn("extraction failed", zap.Error(err))
		s.storeRecord(ctx, logger, failureRecord(requestID, target.String(), fetchedAt, err))
		return crawler.CrawlResult{}, len(page.Body), err
	default:
		logger.Debug("extraction skipped for error page", zap.Int("status", page.StatusCode), zap.Error(err))
	}

	s.persistAndPublish(ctx, logger, &result, page, cacheKey)
	logger.Info("crawl complete",
		zap.Int("status", result.StatusCode),
		zap.Bool("headless", result.UsedHeadless),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return result, len(page.Body), nil
}

// fetch retrieves the page according to mode. In auto mode a failed
// promotion keeps the static response.
func (s *Service) fetch(
	ctx context.Context,
	logger *zap.Logger,
	mode crawler.RenderMode,
	request crawler.FetchRequest,
) (crawler.FetchResponse, error) {
	switch mode {
	case crawler.RenderNever:
		return withSession(ctx, logger, s.deps.Static, request)
	case crawler.RenderAlways:
		if s.deps.Headless == nil {
			return crawler.FetchResponse{}, crawler.NewError(crawler.KindInvalidInput, "render always", errHeadlessUnavailable)
		}
		return withSession(ctx, logger, s.deps.Headless, request)
	}

	static, err := withSession(ctx, logger, s.deps.Static, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if promoted, ok := s.maybePromote(ctx, logger, request, static); ok {
		return promoted, nil
	}
	return static, nil
}

func (s *Service) maybePromote(
	ctx context.Context,
	logger *zap.Logger,
	request crawler.FetchRequest,
	static crawler.FetchResponse,
) (crawler.FetchResponse, bool) {
	if s.deps.Headless == nil || s.deps.Detector == nil || !s.deps.Detector.ShouldPromote(static) {
		return static, false
	}
	resp, err := withSession(ctx, logger, s.deps.Headless, request)
	if err != nil {
		metrics.ObserveHeadlessPromotion("failed")
		logger.Warn("headless promotion failed", zap.Error(err))
		return static, false
	}
	metrics.ObserveHeadlessPromotion("applied")
	logger.Info("headless promotion applied")
	resp.UsedHeadless = true
	return resp, true
}

// withSession opens a session, runs one fetch and always closes the session.
func withSession(
	ctx context.Context,
	logger *zap.Logger,
	provider crawler.SessionProvider,
	request crawler.FetchRequest,
) (crawler.FetchResponse, error) {
	session, err := provider.Open(ctx)
	if err != nil {
		return crawler.FetchResponse{}, crawler.Wrap(crawler.KindInternal, "open session", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("session close failed", zap.Error(err))
		}
	}()
	resp, err := session.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, crawler.Wrap(crawler.KindNetwork, "fetch", err)
	}
	return resp, nil
}

// cacheKey separates entries by robots policy so a result fetched with
// robots.txt ignored is never served to a request that honors it.
func (s *Service) cacheKey(mode crawler.RenderMode, respectRobots bool, target *url.URL) string {
	normalized, err := crawler.NormalizeURL(target.String())
	if err != nil {
		normalized = target.String()
	}
	return string(mode) + "|robots=" + strconv.FormatBool(respectRobots) + "|" + normalized
}

func (s *Service) lookupCache(ctx context.Context, logger *zap.Logger, key string, bypass bool) (crawler.CrawlResult, bool) {
	if s.deps.Cache == nil || bypass {
		return crawler.CrawlResult{}, false
	}
	cached, ok, err := s.deps.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.ObserveCacheLookup("error")
		logger.Warn("cache lookup failed", zap.Error(err))
		return crawler.CrawlResult{}, false
	case !ok:
		metrics.ObserveCacheLookup("miss")
		return crawler.CrawlResult{}, false
	default:
		metrics.ObserveCacheLookup("hit")
		return cached, true
	}
}

func newResult(requestID string, page crawler.FetchResponse, fetchedAt time.Time) crawler.CrawlResult {
	success := page.StatusCode >= 200 && page.StatusCode <= 299
	result := crawler.CrawlResult{
		RequestID:       requestID,
		URL:             page.URL,
		Success:         success,
		StatusCode:      page.StatusCode,
		HTML:            string(page.Body),
		Links:           crawler.Links{Internal: []crawler.Link{}, External: []crawler.Link{}},
		Media:           crawler.Media{Images: []crawler.Image{}, Videos: []crawler.Video{}, Audios: []crawler.Audio{}},
		ResponseHeaders: flattenHeaders(page.Headers),
		UsedHeadless:    page.UsedHeadless,
		DurationMs:      page.Duration.Milliseconds(),
		FetchedAt:       fetchedAt,
	}
	if !success {
		result.ErrorMessage = fmt.Sprintf("HTTP %d %s", page.StatusCode, http.StatusText(page.StatusCode))
	}
	return result
}

func applyContent(result *crawler.CrawlResult, content crawler.Content) {
	result.CleanedHTML = content.CleanedHTML
	result.Markdown = content.Markdown
	result.FitMarkdown = content.FitMarkdown
	result.MarkdownWithCitations = content.MarkdownWithCitations
	result.ReferencesMarkdown = content.ReferencesMarkdown
	result.Links = content.Links
	result.Media = content.Media
	result.Metadata = content.Metadata
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[http.CanonicalHeaderKey(key)] = strings.Join(values, ", ")
	}
	return out
}

func failureRecord(requestID, rawURL string, fetchedAt time.Time, err error) crawler.CrawlRecord {
	return crawler.CrawlRecord{
		RequestID: requestID,
		URL:       rawURL,
		FetchedAt: fetchedAt,
		ErrorKind: crawler.KindOf(err),
		ErrorText: err.Error(),
	}
}

func (s *Service) buildBlobPath(host, hash string) string {
	host = strings.ToLower(host)
	if host == "" {
		host = "unknown"
	}
	prefix := strings.Trim(s.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, host, hash)
}

func (s *Service) sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SinkTimeout)
}

// persistAndPublish hashes, archives, records, publishes and caches a
// result. Every step is best-effort.
func (s *Service) persistAndPublish(
	ctx context.Context,
	logger *zap.Logger,
	result *crawler.CrawlResult,
	page crawler.FetchResponse,
	cacheKey string,
) {
	sinkCtx, cancel := s.sinkContext(ctx)
	defer cancel()

	hash, err := s.deps.Hasher.Hash(page.Body)
	if err != nil {
		metrics.ObserveSinkFailure("hash")
		logger.Warn("hash body failed", zap.Error(err))
	}
	result.ContentHash = hash

	if s.deps.Blobs != nil && hash != "" {
		host := ""
		if u, err := url.Parse(page.URL); err == nil {
			host = u.Hostname()
		}
		uri, err := s.deps.Blobs.PutObject(sinkCtx, s.buildBlobPath(host, hash), s.cfg.ContentType, bytes.NewReader(page.Body))
		if err != nil {
			metrics.ObserveSinkFailure("blob")
			logger.Warn("archive page failed", zap.Error(err))
		} else {
			result.BlobURI = uri
		}
	}

	record := crawler.CrawlRecord{
		RequestID:    result.RequestID,
		URL:          page.URL,
		FinalURL:     result.URL,
		StatusCode:   result.StatusCode,
		Success:      result.Success,
		UsedHeadless: result.UsedHeadless,
		ContentType:  page.Headers.Get("Content-Type"),
		Headers:      page.Headers,
		ContentHash:  result.ContentHash,
		BlobURI:      result.BlobURI,
		DurationMs:   result.DurationMs,
		FetchedAt:    result.FetchedAt,
	}
	s.storeRecord(ctx, logger, record)
	s.publishResult(sinkCtx, logger, *result)

	if s.deps.Cache != nil && result.Success {
		if err := s.deps.Cache.Set(sinkCtx, cacheKey, *result); err != nil {
			metrics.ObserveSinkFailure("cache")
			logger.Warn("cache store failed", zap.Error(err))
		}
	}
}

func (s *Service) storeRecord(ctx context.Context, logger *zap.Logger, record crawler.CrawlRecord) {
	if s.deps.Records == nil {
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		metrics.ObserveSinkFailure("record")
		logger.Warn("generate record id failed", zap.Error(err))
		return
	}
	record.ID = id
	sinkCtx, cancel := s.sinkContext(ctx)
	defer cancel()
	if err := s.deps.Records.StoreRecord(sinkCtx, record); err != nil {
		metrics.ObserveSinkFailure("record")
		logger.Warn("store crawl record failed", zap.Error(err))
	}
}

func (s *Service) publishResult(ctx context.Context, logger *zap.Logger, result crawler.CrawlResult) {
	if s.cfg.Topic == "" || s.deps.Publisher == nil {
		return
	}
	event := completionEvent{
		RequestID:   result.RequestID,
		URL:         result.URL,
		StatusCode:  result.StatusCode,
		Success:     result.Success,
		Headless:    result.UsedHeadless,
		ContentHash: result.ContentHash,
		BlobURI:     result.BlobURI,
		Timestamp:   s.deps.Clock.Now().Format(time.RFC3339),
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		metrics.ObserveSinkFailure("publish")
		logger.Warn("publish result failed", zap.Error(err))
		return
	}
	logger.Debug("result published", zap.String("message_id", id), zap.String("blob_uri", result.BlobURI))
}

// completionEvent is the message published after every completed crawl.
type completionEvent struct {
	RequestID   string `json:"request_id"`
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	Success     bool   `json:"success"`
	Headless    bool   `json:"headless"`
	ContentHash string `json:"content_hash,omitempty"`
	BlobURI     string `json:"blob_uri,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Attributes exposes routing attributes to brokers that support them.
func (e completionEvent) Attributes() map[string]string {
	return map[string]string{
		"request_id": e.RequestID,
		"success":    fmt.Sprintf("%t", e.Success),
	}
}
