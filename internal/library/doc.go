// Package library confirms that organized books appear in Audiobookshelf.
//
// Client wraps the handful of Audiobookshelf endpoints the pipeline reads
// (search, scan, identity check) with bearer-token auth. Match scores
// candidates by ASIN equality or a weighted Sørensen–Dice similarity over
// normalized title and author.
package library
