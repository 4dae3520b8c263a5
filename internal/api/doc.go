// Package api hosts the HTTP server, middleware, and REST handlers for dataset
// requests. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/datasets to validate a search and queue it as a dataset.
//   - POST /v1/datasets/import to create a dataset from an uploaded CSV.
//   - GET /v1/datasets/{key}[/result|/genealogy|/processors] for status, results and chaining.
//   - POST /v1/datasets/{key}/processors/{id} to queue a child dataset.
//   - GET /v1/jobs/{id} and POST /v1/jobs/{id}/interrupt for job control.
package api
