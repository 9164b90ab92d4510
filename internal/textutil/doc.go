// Package textutil provides text helpers shared by the organizer, the chapter
// toolchain and the library matcher.
//
// The primary use cases are:
//   - Sanitizing template values and filenames for safe filesystem use
//   - Folding titles and author names for fuzzy comparison
//   - Natural ordering of chapter filenames ("ch2" before "ch10")
package textutil
