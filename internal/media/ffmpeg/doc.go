// Package ffmpeg runs the ffmpeg binary for merging, decode tests and
// metadata rewrites.
//
// Runner adds the flags every invocation needs (no stdin, overwrite,
// machine-readable progress on stdout) and converts the progress stream into
// Progress values. Execution goes through the Executor interface so tests can
// substitute a stub; the default executor keeps the tail of stderr for error
// messages.
package ffmpeg
