// Package store persists audiobook requests, their download history and the
// scheduler's job queue in SQLite.
//
// Request status changes are compare-and-set updates: every transition names
// the statuses it may leave from, and a transition that finds the row in any
// other status is rejected with ErrTransitionRejected without touching it.
// Processors treat a rejection as "someone else already moved this request"
// and stop.
//
// At most one download_history row per request carries selected = 1; a
// partial unique index enforces this and every selection change runs inside a
// single transaction.
//
// Schema changes bump schemaVersion in schema.go; users clear the database to
// adopt the new schema.
package store
