// Package tagger writes book-level metadata into audio files.
//
// MP3 files are tagged in place with ID3v2 frames (including an attached
// front-cover picture). Every other container is rewritten through ffmpeg
// with stream copy into a sibling temp file that replaces the original only
// on success.
package tagger
