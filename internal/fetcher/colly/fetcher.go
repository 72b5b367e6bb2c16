// Package collyfetcher opens static crawler sessions backed by gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

const sessionKind = "static"

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Provider implements crawler.SessionProvider using the Colly collector.
// All sessions share one transport and robots cache.
type Provider struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	c.WithTransport(&robotsRetryTransport{base: newHTTPTransport(), logger: logger})
	c.SetRequestTimeout(cfg.Timeout)

	return &Provider{
		cfg:           cfg,
		logger:        logger.Named("colly"),
		baseCollector: c,
	}
}

// Open returns a session bound to ctx. Requests issued by the session are
// canceled with ctx.
func (p *Provider) Open(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, crawler.Wrap(crawler.KindTimeout, "open static session", err)
	}
	collector := p.baseCollector.Clone()
	collector.Context = ctx
	metrics.SessionOpened(sessionKind)
	return &session{collector: collector, logger: p.logger}, nil
}

type session struct {
	collector *colly.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// Fetch executes a single HTTP GET using Colly.
func (s *session) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if s.closed.Load() {
		return crawler.FetchResponse{}, crawler.NewError(crawler.KindInternal, "colly fetch", errSessionClosed)
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := s.buildCollector(request, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	s.logger.Debug("static fetch complete",
		zap.String("request_id", request.RequestID),
		zap.String("url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
	)
	return result, nil
}

// Close releases the session. It is safe to call more than once.
func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		metrics.SessionClosed(sessionKind)
	}
	return nil
}

func (s *session) buildCollector(
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := s.collector.Clone()
	collector.IgnoreRobotsTxt = !request.RespectRobots
	configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      headers,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return crawler.Wrap(crawler.KindTimeout, "colly fetch canceled", ctx.Err())
	case err := <-done:
		if err != nil {
			return classifyVisitError(err)
		}
		if *fetchErr != nil {
			return crawler.Wrap(crawler.KindNetwork, "colly response failed", *fetchErr)
		}
		return nil
	}
}

func classifyVisitError(err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return crawler.NewError(crawler.KindBlocked, "colly visit", err)
	case errors.Is(err, colly.ErrMissingURL), errors.Is(err, colly.ErrForbiddenDomain):
		return crawler.NewError(crawler.KindInvalidInput, "colly visit", err)
	default:
		return crawler.Wrap(crawler.KindNetwork, "colly visit failed", err)
	}
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

var errSessionClosed = errors.New("session already closed")

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
