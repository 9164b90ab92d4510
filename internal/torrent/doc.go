// Package torrent derives the deterministic identifier of a torrent source:
// the lowercase hex SHA-1 info hash, read from a magnet URI's btih parameter
// or computed over the bencoded info dictionary of a .torrent file.
package torrent
