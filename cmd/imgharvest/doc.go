// Package main hosts the imgharvest entrypoint.
//
// Architecture overview:
//   - CLI: cmd builds a cobra root command with a --config flag and a fetch subcommand. The root hook loads
//     config via Viper (env prefix IMGHARVEST_, optional .env and config file), builds the zap logger and
//     constructs internal/app.App, which owns every long-lived service for the run.
//   - Discovery: one provider per run (headless chromedp render, static colly scrape, RSS/Atom feed or a
//     YAML fixture) turns a term into a lazy sequence of candidate URLs, each with a proposed UUID name.
//     A failed discovery is retried once after a backoff before the term is reported as failed.
//   - Download pool: internal/worker runs a fixed number of workers per term fed by one producer. Each
//     candidate is throttled per host, fetched with the colly fetcher and written to the sink. Every
//     candidate yields exactly one Success, Skipped or Failed outcome.
//   - Persistence & fanout: artifacts land in {base_dir}/{term}/{id}.jpg on disk (afero) or in GCS.
//     Outcomes are optionally recorded in Postgres and successes published to Pub/Sub.
//   - Observability: zap logs carry the term, the n-of-N progress and failing URLs. Prometheus counters
//     and histograms are served on /metrics when metrics.listen_addr is set.
//
// Operational notes:
//   - Terms run strictly in order; at most worker.concurrency downloads are in flight at once.
//   - SIGINT/SIGTERM stop new discovery and downloads. In-flight downloads get
//     worker.grace_period_seconds to finish, the rest are reported as skipped.
//   - Exit codes: 0 all downloads succeeded, 1 some downloads failed, 2 a term failed discovery or the run
//     was interrupted.
//
// Quick checklist:
//   - Run locally: go run ./cmd/imgharvest fetch sun moon (needs Chrome for the default headless provider).
//   - Without a browser: IMGHARVEST_DISCOVERY_PROVIDER=static or fixture with IMGHARVEST_DISCOVERY_FIXTURE_PATH.
//   - Cloud: IMGHARVEST_STORAGE_BACKEND=gcs with IMGHARVEST_STORAGE_GCS_BUCKET, optional IMGHARVEST_DB_DSN and
//     IMGHARVEST_PUBSUB_PROJECT_ID/IMGHARVEST_PUBSUB_TOPIC_NAME.
package main
