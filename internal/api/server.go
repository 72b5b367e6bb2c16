package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/cards"
	"github.com/JakeFAU/pagecrawl/internal/config"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

const readinessTimeout = 3 * time.Second

var (
	errNotObject    = errors.New("request body must be a JSON object")
	errBodyTooLarge = errors.New("request body too large")
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the crawl service.
type Server struct {
	router  chi.Router
	crawler crawler.Crawler
	checks  map[string]Pinger
	cards   cards.Generator
	cfg     config.Config
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithCardGenerator mounts POST /clean backed by g.
func WithCardGenerator(g cards.Generator) Option {
	return func(s *Server) { s.cards = g }
}

// NewServer constructs a Server with middleware and routes. checks are
// consulted by /readyz.
func NewServer(c crawler.Crawler, cfg config.Config, logger *zap.Logger, checks map[string]Pinger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler: c,
		checks:  checks,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	if timeout := cfg.RequestTimeout(); timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl", s.crawl)
		if s.cards != nil {
			r.Post("/clean", s.clean)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL           string `json:"url"`
	Render        string `json:"render"`
	BypassCache   bool   `json:"bypass_cache"`
	RespectRobots *bool  `json:"respect_robots"`
}

type crawlSuccess struct {
	Content crawler.CrawlResult `json:"content"`
}

type crawlFailure struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Kind    crawler.Kind `json:"kind"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCrawlRequest(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		if !s.cfg.API.LegacyStatus {
			s.writeDecodeFailure(w, err)
			return
		}
		s.logger.Debug("undecodable request passed through", zap.Error(err))
		req = crawlRequest{}
	}
	if !s.cfg.API.LegacyStatus {
		if _, err := crawler.ValidateURL(req.URL); err != nil {
			s.writeFailure(w, err)
			return
		}
	}

	result, err := s.crawler.Crawl(r.Context(), crawler.CrawlRequest{
		URL:           req.URL,
		Render:        crawler.RenderMode(req.Render),
		BypassCache:   req.BypassCache,
		RespectRobots: req.RespectRobots,
	})
	if err != nil {
		msg := "crawl failed"
		if crawler.Canceled(err) {
			msg = "crawl canceled"
		}
		s.logger.Info(msg,
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("url", req.URL),
			zap.String("kind", string(crawler.KindOf(err))),
			zap.Bool("canceled", crawler.Canceled(err)),
			zap.Error(err),
		)
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, crawlSuccess{Content: result})
}

func decodeCrawlRequest(body io.Reader) (crawlRequest, error) {
	var req crawlRequest
	err := decodeObject(body, &req)
	return req, err
}

// decodeObject decodes a single JSON object from body into dst.
func decodeObject(body io.Reader, dst any) error {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid request fields: %w", err)
	}
	return nil
}

func (s *Server) maxBodyBytes() int64 {
	if s.cfg.API.MaxBodyBytes > 0 {
		return s.cfg.API.MaxBodyBytes
	}
	return 1 << 20
}

func (s *Server) failureStatus(kind crawler.Kind) int {
	if s.cfg.API.LegacyStatus {
		return http.StatusOK
	}
	return kind.HTTPStatus()
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	s.writeFailureStatus(w, s.failureStatus(crawler.KindOf(err)), err)
}

func (s *Server) writeDecodeFailure(w http.ResponseWriter, err error) {
	status := s.failureStatus(crawler.KindInvalidInput)
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	s.writeFailureStatus(w, status, crawler.NewError(crawler.KindInvalidInput, "decode request", err))
}

func (s *Server) writeFailureStatus(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, crawlFailure{
		Error:   err.Error(),
		Message: crawler.FailureMessage,
		Kind:    crawler.KindOf(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
