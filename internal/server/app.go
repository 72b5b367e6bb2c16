// Package server builds the application's dependencies and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pagecrawl/internal/api"
	"github.com/JakeFAU/pagecrawl/internal/cards"
	rediscache "github.com/JakeFAU/pagecrawl/internal/cache/redis"
	"github.com/JakeFAU/pagecrawl/internal/config"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/extract"
	collyfetcher "github.com/JakeFAU/pagecrawl/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/pagecrawl/internal/fetcher/headless"
	"github.com/JakeFAU/pagecrawl/internal/headless/detector"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
	"github.com/JakeFAU/pagecrawl/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/pagecrawl/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pagecrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/pagecrawl/internal/service"
	gcsstorage "github.com/JakeFAU/pagecrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pagecrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/pagecrawl/internal/storage/memory"
	pgstore "github.com/JakeFAU/pagecrawl/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	service   *service.Service
	apiServer *api.Server
	checks    map[string]api.Pinger

	headless     *headlessfetcher.Provider
	gcsClient    *storage.Client
	records      *pgstore.RecordStore
	cache        *rediscache.Cache
	gcpPublisher *gcppublisher.Publisher
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Build creates the application's dependencies. Partially built
// dependencies are released when Build fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger, checks: map[string]api.Pinger{}}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("legacy_status", cfg.API.LegacyStatus),
		zap.String("default_render", cfg.Crawler.DefaultRender),
	)

	deps := service.Dependencies{
		Static: collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     cfg.CrawlTimeout(),
			MaxBodySize: cfg.Crawler.MaxBodyBytes,
		}, logger),
		Extractor: extract.New(extract.Config{
			WordCountThreshold: cfg.Extract.WordCountThreshold,
			ExcludedTags:       cfg.Extract.ExcludedTags,
			FitMarkdown:        cfg.Extract.FitMarkdown,
		}, logger),
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.Burst,
		HostRPS:      cfg.RateLimit.HostRPS,
		MaxHosts:     cfg.RateLimit.MaxHosts,
	})
	if err != nil {
		return nil, err
	}
	deps.Limiter = limiter
	metrics.TrackSites(cfg.MetricSites())

	if err = app.setupHeadless(&deps); err != nil {
		return nil, err
	}
	if deps.Blobs, err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx, &deps); err != nil {
		return nil, err
	}
	if err = app.setupCache(&deps); err != nil {
		return nil, err
	}
	if deps.Publisher, err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	app.service, err = service.New(deps, service.Config{
		Timeout:        cfg.CrawlTimeout(),
		RespectRobots:  cfg.Crawler.RespectRobots,
		DefaultRender:  crawler.RenderMode(cfg.Crawler.DefaultRender),
		ContentType:    cfg.Storage.ContentType,
		BlobPrefix:     cfg.Storage.Prefix,
		Topic:          cfg.PublishTopic(),
		Headers:        requestHeaders(cfg.Crawler.Headers),
		BlockedDomains: cfg.Crawler.BlockedDomains,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}
	var opts []api.Option
	gen, err := app.setupCards()
	if err != nil {
		return nil, err
	}
	if gen != nil {
		opts = append(opts, api.WithCardGenerator(gen))
	}
	app.apiServer = api.NewServer(app.service, cfg, logger, app.checks, opts...)
	return app, nil
}

func (a *App) setupCards() (cards.Generator, error) {
	if !a.cfg.Cards.Enabled {
		return nil, nil
	}
	gen, err := cards.NewAnthropic(cards.Config{
		APIKey:        a.cfg.Cards.APIKey,
		Model:         a.cfg.Cards.Model,
		MaxTokens:     a.cfg.Cards.MaxTokens,
		BaseURL:       a.cfg.Cards.BaseURL,
		Timeout:       a.cfg.CardsTimeout(),
		MaxInputChars: a.cfg.Cards.MaxInputChars,
		MaxRetries:    a.cfg.Cards.MaxRetries,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("card generator init failed: %w", err)
	}
	a.logger.Info("knowledge cards enabled", zap.String("model", a.cfg.Cards.Model))
	return gen, nil
}

func (a *App) setupHeadless(deps *service.Dependencies) error {
	if !a.cfg.Headless.Enabled {
		a.logger.Info("headless rendering disabled")
		return nil
	}
	flags := map[string]any{}
	if a.cfg.Headless.NoSandbox {
		flags["no-sandbox"] = true
	}
	provider, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(a.cfg.Headless.SettleDelayMs) * time.Millisecond,
		ExtraFlags:        flags,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("headless provider init failed: %w", err)
	}
	a.headless = provider
	deps.Headless = provider
	deps.Detector = detector.NewHeuristic(a.cfg.Headless.PromotionThresh)
	a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.checks["storage"] = store
		return store, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("raw page archiving disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context, deps *service.Dependencies) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database DSN configured, crawl history disabled")
		return nil
	}
	records, err := pgstore.NewRecordStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeMin) * time.Minute,
		AutoMigrate:     a.cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.records = records
	a.checks["database"] = records
	deps.Records = records
	a.logger.Info("crawl record store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupCache(deps *service.Dependencies) error {
	if !a.cfg.Cache.Enabled {
		return nil
	}
	cache, err := rediscache.New(rediscache.Config{
		Addr:     a.cfg.Cache.Addr,
		Password: a.cfg.Cache.Password,
		DB:       a.cfg.Cache.DB,
		TTL:      time.Duration(a.cfg.Cache.TTLSeconds) * time.Second,
		Prefix:   a.cfg.Cache.Prefix,
	})
	if err != nil {
		return fmt.Errorf("result cache init failed: %w", err)
	}
	a.cache = cache
	a.checks["cache"] = cache
	deps.Cache = cache
	a.logger.Info("result cache enabled", zap.String("addr", a.cfg.Cache.Addr))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.PubSub.Backend {
	case config.PublisherGCP:
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		publisher := gcppublisher.New(client)
		a.gcpPublisher = publisher
		topic := a.cfg.PubSub.TopicName
		a.checks["pubsub"] = pingFunc(func(ctx context.Context) error {
			return publisher.Ping(ctx, topic)
		})
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
		return publisher, nil
	case config.PublisherMemory:
		a.logger.Info("using in-memory publisher", zap.String("topic", a.cfg.PubSub.TopicName))
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func requestHeaders(raw map[string]string) http.Header {
	if len(raw) == 0 {
		return nil
	}
	h := make(http.Header, len(raw))
	for key, value := range raw {
		h.Set(strings.TrimSpace(key), value)
	}
	return h
}

// Crawler exposes the crawl pipeline for one-shot use.
func (a *App) Crawler() crawler.Crawler {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is canceled, then drains in-flight
// requests within the shutdown timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.ShutdownTimeout()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases every long-lived dependency.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.records != nil {
		a.records.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
