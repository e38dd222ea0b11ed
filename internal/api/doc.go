// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/search for paged website search.
//   - POST /v1/tasks to enqueue crawl tasks at a priority tier.
package api
