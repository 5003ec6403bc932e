// Package config loads, normalizes, and validates doctools configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BAIDU_API_KEY. The Config type centralizes every knob the CLI and the
// background workers need, so OCR credentials, converter binaries, and state
// directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
