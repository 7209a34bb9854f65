// Package harvest defines the core types and contracts of the image fetch pipeline:
// candidates produced by discovery, outcomes produced by the download pool, and the
// summaries aggregated by the orchestrator.
package harvest
