// Package history keeps a SQLite record of conversion jobs and recognition
// items so the CLI can show what ran, when, and why something failed.
package history
