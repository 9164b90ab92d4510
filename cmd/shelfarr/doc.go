// Package main hosts the shelfarr CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon, manages audiobook requests
// and their jobs directly against the SQLite store, tests download client
// connectivity, triggers one-shot library scans and seeding cleanups, merges
// chapter files, runs preflight checks, tails the daemon log, and scaffolds
// configuration.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
