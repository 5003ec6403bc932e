// Package logging assembles structured slog loggers and formatting helpers used
// across doctools.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so job code automatically tags
// log lines with job IDs, batch IDs, and item keys. StatusHandler forwards
// user-facing events (info, warnings, errors) to a sink such as the CLI status
// printer, and TeeLogger fans one logger out to several handlers.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the tool.
package logging
