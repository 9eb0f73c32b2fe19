// Package api hosts the ops HTTP server for a visit run. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the running outcome summary and stored record count.
//   - GET /v1/visits?url= and /v1/visits/{date}?url= for stored records.
package api
