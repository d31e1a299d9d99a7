// Package store persists episodes, pipeline runs, artifacts, prompt versions,
// and review state in SQLite. Schema changes are applied through numbered,
// embedded migrations recorded in schema_migrations.
package store
