// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - POST /crawl fetches and extracts one URL.
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
package api
