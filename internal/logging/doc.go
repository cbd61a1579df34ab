// Package logging assembles structured slog loggers and formatting helpers used
// across conveyor processes.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage workers and node handlers tag log
// lines with document IDs, stages, workers and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
