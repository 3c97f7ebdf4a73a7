// Package logging assembles structured slog loggers and formatting helpers used
// across assetpipe.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so stage code automatically tags log lines with
// item correlation keys, stage names, batch ids, and request ids. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging
