// Package api hosts the operator HTTP server that runs alongside a poll.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest for the summary of the most recent run.
package api
