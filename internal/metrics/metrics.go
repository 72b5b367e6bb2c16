// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_crawls_total",
			Help: "Total number of crawl requests, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	crawlBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_bytes_total",
			Help: "Total number of document bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	crawlDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecrawl_crawl_duration_seconds",
			Help:    "Histogram of end-to-end crawl latencies, labeled by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	activeSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagecrawl_active_sessions",
			Help: "Number of open crawler sessions, labeled by session kind.",
		},
		[]string{"kind"},
	)

	headlessPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_headless_promotions_total",
			Help: "Static fetches promoted to a headless browser, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_cache_lookups_total",
			Help: "Result cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	sinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_sink_failures_total",
			Help: "Best-effort sink writes that failed, labeled by sink.",
		},
		[]string{"sink"},
	)

	robotsFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecrawl_robots_fallbacks_total",
			Help: "robots.txt fetches that gave up after TLS handshake timeouts and allowed the crawl.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecrawl_rate_limit_delays_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	cardRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrawl_card_requests_total",
			Help: "Total number of knowledge card requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cardsGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecrawl_cards_generated_total",
			Help: "Total number of knowledge cards returned.",
		},
	)

	cardDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagecrawl_card_duration_seconds",
			Help:    "Histogram of knowledge card generation latencies.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// otherSite labels hosts that are not tracked individually.
const otherSite = "other"

var trackedSites atomic.Pointer[map[string]struct{}]

// TrackSites sets the hosts reported under their own site label. Every other
// host is reported as "other" so client-supplied URLs cannot grow the number
// of series.
func TrackSites(hosts []string) {
	set := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		if site := SanitizeSite(strings.TrimSpace(host)); site != "unknown" {
			set[site] = struct{}{}
		}
	}
	trackedSites.Store(&set)
}

func siteLabel(rawURL string) string {
	site := SanitizeSite(rawURL)
	if site == "unknown" {
		return site
	}
	if set := trackedSites.Load(); set != nil {
		if _, ok := (*set)[site]; ok {
			return site
		}
	}
	return otherSite
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records one finished crawl. outcome is "success" or a failure kind.
func ObserveCrawl(site, outcome string, bytesFetched int, duration time.Duration) {
	sanitizedSite := siteLabel(site)
	crawlsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	crawlDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SessionOpened increments the open session gauge for kind.
func SessionOpened(kind string) {
	activeSessions.WithLabelValues(kind).Inc()
}

// SessionClosed decrements the open session gauge for kind.
func SessionClosed(kind string) {
	activeSessions.WithLabelValues(kind).Dec()
}

// ObserveHeadlessPromotion counts a promotion attempt ("applied" or "failed").
func ObserveHeadlessPromotion(outcome string) {
	headlessPromotionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup counts a result cache lookup.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveSinkFailure counts a failed best-effort write.
func ObserveSinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(siteLabel(domain)).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that fell back to allow-all.
func ObserveRobotsFallback() {
	robotsFallbacksTotal.Inc()
}

// ObserveCards records one knowledge card request.
func ObserveCards(outcome string, cards int, duration time.Duration) {
	cardRequestsTotal.WithLabelValues(outcome).Inc()
	cardsGeneratedTotal.Add(float64(cards))
	cardDurationSeconds.Observe(duration.Seconds())
}
