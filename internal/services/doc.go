// Package services provides the shared error taxonomy and context carriers used
// by stage adapters and the pipeline orchestrator.
package services
