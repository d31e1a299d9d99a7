// Package logging wraps log/slog with the typed attribute helpers and
// context-derived fields used across the pipeline.
package logging
