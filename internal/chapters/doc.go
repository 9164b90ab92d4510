// Package chapters consolidates a directory of sequential audio files into a
// single chaptered .m4b.
//
// The toolchain runs in fixed steps: detection (at least three files sharing
// one supported extension), parallel ffprobe probing, book-title detection,
// ordering (embedded track numbers when they form exactly 1..N, natural
// filename order otherwise), chapter naming, timeline construction, the
// ffmpeg merge itself and post-merge validation. A failed validation removes
// the output so a broken artifact is never published.
package chapters
