// Package main hosts the dublaj CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into feed
// detection, pipeline passes, review decisions, prompt version management,
// cost reporting, and configuration scaffolding. It centralizes configuration
// resolution, service wiring, and structured logging setup so subcommands can
// focus on user experience instead of plumbing.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
