// Package services defines shared utilities consumed by the stage runtime, the
// store and the node HTTP handlers.
//
// Key responsibilities:
//   - Context helpers that stamp document IDs, stage names, worker indexes and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (bad request, missing document, transient store trouble)
//     without string matching.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
