// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sources/{source_id}/runs to queue an immediate run.
//   - GET /v1/runs/{run_id} to inspect run state.
package api
