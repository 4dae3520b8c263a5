// Package main hosts the socialscope entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates search requests, creates datasets keyed by their parameters and
//     queues one job per dataset. Finished results are downloaded as CSV; processors chain child datasets.
//   - Queue & workers: jobs live in the job table (postgres or memory). A worker pool claims jobs per type with a
//     lease; the dispatcher reclaims expired leases and purges old jobs on a cron schedule.
//   - Producers: the search producer hydrates posts through the full-text index and the corpus table; the board
//     and thread scrapers keep the corpus fresh; processors transform a finished parent's rows.
//   - Fanout: finished datasets are announced on Pub/Sub when a topic is configured.
//
// Quick checklist:
//   - Configure env vars: SOCIALSCOPE_STORAGE_DRIVER, SOCIALSCOPE_DB_DSN, SOCIALSCOPE_SEARCH_INDEX_URL,
//     SOCIALSCOPE_PUBSUB_PROJECT_ID and friends, or pass --config.
//   - Run locally: go run ./cmd/socialscope serve --config config.yaml
package main

import "github.com/JakeFAU/socialscope/cmd"

func main() {
	cmd.Execute()
}
