// Package ratelimit paces outbound fetches with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

// DefaultMaxHosts bounds the number of per-host buckets kept in memory.
const DefaultMaxHosts = 10000

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HostRPS overrides DefaultRPS for specific hosts.
	HostRPS map[string]float64
	// MaxHosts caps the tracked buckets; the least recently used host is
	// evicted first.
	MaxHosts int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     *lru.Cache[string, *rate.Limiter]
	unlimited    *rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	hostRates    map[string]rate.Limit
}

// New creates a new Limiter. A non-positive rate disables limiting for the
// hosts it applies to.
func New(cfg Config) (*Limiter, error) {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	limiters, err := lru.New[string, *rate.Limiter](maxHosts)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	hostRates := make(map[string]rate.Limit, len(cfg.HostRPS))
	for host, rps := range cfg.HostRPS {
		hostRates[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		limiters:     limiters,
		unlimited:    rate.NewLimiter(rate.Inf, burst),
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		hostRates:    hostRates,
	}, nil
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return crawler.Wrap(crawler.KindTimeout, "rate limit wait", fmt.Errorf("%s: %w", host, err))
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// limiterFor returns the bucket for host. Unlimited hosts share one bucket
// and are never cached.
func (l *Limiter) limiterFor(host string) *rate.Limiter {
	limit, overridden := l.hostRates[host]
	if !overridden {
		limit = l.defaultRate
	}
	if limit == rate.Inf {
		return l.unlimited
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters.Get(host); ok {
		return limiter
	}
	limiter := rate.NewLimiter(limit, l.defaultBurst)
	l.limiters.Add(host, limiter)
	return limiter
}

// Hosts reports how many per-host buckets are currently kept.
func (l *Limiter) Hosts() int {
	return l.limiters.Len()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
