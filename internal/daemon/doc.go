// Package daemon coordinates the long-running shelfarr process.
//
// It wires configuration, the SQLite store, the download client registry,
// the organizer, the library client, and the job manager into a single
// lifecycle with flock-based locking to prevent multiple instances. On start
// it seeds the recurring scan and cleanup jobs; Reload swaps download client
// configuration without a restart.
//
// Keep orchestration logic here: job processors live in the pipeline package
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
