// Package api hosts the read-only status server that runs next to a batch.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live orchestrator progress.
//   - GET /v1/records for the checkpoint table, optionally filtered to
//     remediable rows with ?remediable=true.
package api
