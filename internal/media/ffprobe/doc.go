// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, bitrate, tags)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Parse: decodes captured ffprobe JSON
//
// Helper methods on Result provide duration, bitrate, codec and tag access
// (track number, title, album) with container tags preferred over stream
// tags.
package ffprobe
