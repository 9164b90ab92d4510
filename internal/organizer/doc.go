// Package organizer places finished downloads into the audiobook library.
//
// It resolves the configured path template against sanitized book metadata,
// optionally merges chapter files into a single .m4b, copies (never moves)
// the audio so the download keeps seeding, tags the copies, and fetches
// cover art and an e-book sidecar on a best-effort basis. Optional steps
// that fail are reported as warnings on the Result; only a failure to place
// the primary audio fails the organize operation.
package organizer
