// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/favicon?url=... serves a site's icon through the edge cache.
//   - Any other GET is served from the AssetStore, falling back to the index.
package api
