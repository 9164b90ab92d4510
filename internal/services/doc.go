// Package services defines shared utilities consumed by the job processors and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp request IDs, job IDs, job types, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and Classify which sorts
//     any failure into the transient, client-permanent, content-permanent or
//     best-effort buckets the processors act on.
//
// Use these helpers when wiring new processor logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
