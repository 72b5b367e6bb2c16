// Package headless opens crawler sessions that execute JavaScript in a
// headless Chrome tab.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

const sessionKind = "headless"

// Config controls the behavior of the headless provider.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ExtraFlags        map[string]any
}

// Provider implements crawler.SessionProvider with one chromedp browser tab
// per session. MaxParallel bounds the number of open tabs.
type Provider struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless provider backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	for name, value := range cfg.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Provider{
		cfg:         cfg,
		logger:      logger.Named("headless"),
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting down every browser.
func (p *Provider) Close() {
	p.allocCancel()
}

// Open waits for a free browser slot and opens a tab. The tab is torn down
// when the session is closed or ctx is done, whichever comes first.
func (p *Provider) Open(ctx context.Context) (crawler.Session, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	stop := context.AfterFunc(ctx, tabCancel)
	metrics.SessionOpened(sessionKind)
	return &session{
		provider: p,
		tabCtx:   tabCtx,
		cancel: func() {
			stop()
			tabCancel()
		},
	}, nil
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return crawler.Wrap(crawler.KindTimeout, "headless slot wait canceled", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

func (p *Provider) navTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

type session struct {
	provider  *Provider
	tabCtx    context.Context
	cancel    func()
	closeOnce sync.Once
}

// Fetch navigates the session's tab and returns the fully rendered DOM.
func (s *session) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := s.tabCtx.Err(); err != nil {
		return crawler.FetchResponse{}, crawler.Wrap(crawler.KindTimeout, "headless session closed", err)
	}
	navCtx, cancel := context.WithTimeout(s.tabCtx, s.provider.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(navCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := s.runHeadless(navCtx, request, meta)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, crawler.Wrap(crawler.KindTimeout, "headless fetch canceled", ctxErr)
		}
		return crawler.FetchResponse{}, crawler.Wrap(crawler.KindNetwork, "headless fetch", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	s.provider.logger.Debug("headless fetch complete",
		zap.String("request_id", request.RequestID),
		zap.String("url", responseURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
	)

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// Close tears down the tab and frees its slot. It is safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.provider.release()
		metrics.SessionClosed(sessionKind)
	})
	return nil
}

func (s *session) runHeadless(ctx context.Context, request crawler.FetchRequest, meta *responseMeta) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.networkSetupAction(request.Headers),
		mainFrameAction(meta),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if delay := s.provider.cfg.SettleDelay; delay > 0 {
		actions = append(actions, chromedp.Sleep(delay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (s *session) networkSetupAction(headers http.Header) chromedp.Action {
	userAgent := s.provider.cfg.UserAgent
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// mainFrameAction records the tab's main frame so responses loaded into
// iframes are ignored. A page target's ID is its main frame ID.
func mainFrameAction(meta *responseMeta) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
			meta.setMainFrame(cdp.FrameID(c.Target.TargetID))
		}
		return nil
	})
}

// responseMeta keeps the status, headers and URL of the main document.
type responseMeta struct {
	mu        sync.RWMutex
	mainFrame cdp.FrameID
	captured  bool
	status    int
	headers   http.Header
	url       string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Without a known main frame the first document wins.
	if m.mainFrame != "" {
		if event.FrameID != m.mainFrame {
			return
		}
	} else if m.captured {
		return
	}
	m.captured = true
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) setMainFrame(id cdp.FrameID) {
	m.mu.Lock()
	m.mainFrame = id
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
