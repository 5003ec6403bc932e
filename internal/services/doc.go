// Package services defines shared utilities consumed by the OCR and
// conversion collaborators and by the orchestration layer.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, batch IDs, item keys, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Kind, which
//     classifies failures (configuration, validation, transport, cancelled)
//     for history rows and user-facing status lines.
//
// Use these helpers when wiring new collaborators so error handling and
// observability stay uniform across the tool.
package services
