// Package logs reads the daemon's log file for the CLI: the last lines on
// demand, new lines as they are appended, and an optional per-request filter
// that understands both the console and JSON formats.
package logs
