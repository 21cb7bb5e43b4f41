// Package devserver hosts the development HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /@imagepipe/load?id= runs the load phase for one module.
//   - POST /@imagepipe/markdown?id= rewrites a compiled Markdown document.
//
// Every other request passes through AssetMiddleware, which serves transformed images
// straight from the in-memory cache, and then falls back to static files under the
// project root.
package devserver
