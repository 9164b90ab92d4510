package tagger

import (
	"strings"
)

const genreAudiobook = "Audiobook"

// Metadata is the book-level tag set.
type Metadata struct {
	Title       string
	Author      string
	Narrator    string
	Year        string
	ASIN        string
	Series      string
	SeriesPart  string
	Description string
}

// Pair is one ffmpeg metadata key/value.
type Pair struct {
	Key   string
	Value string
}

// Album returns the album tag, which is the book title.
func (m Metadata) Album() string {
	return strings.TrimSpace(m.Title)
}

// Pairs returns the ffmpeg metadata tags for m, omitting empty values.
// Narrator maps to composer, the convention Audiobookshelf and most players
// read.
func (m Metadata) Pairs() []Pair {
	candidates := []Pair{
		{"title", m.Title},
		{"album", m.Album()},
		{"artist", m.Author},
		{"album_artist", m.Author},
		{"composer", m.Narrator},
		{"date", m.Year},
		{"genre", genreAudiobook},
		{"description", m.Description},
		{"series", m.Series},
		{"series-part", m.SeriesPart},
		{"asin", m.ASIN},
	}
	if m.ASIN != "" {
		candidates = append(candidates, Pair{"comment", "ASIN: " + m.ASIN})
	}
	out := make([]Pair, 0, len(candidates))
	for _, p := range candidates {
		if v := strings.TrimSpace(p.Value); v != "" {
			out = append(out, Pair{Key: p.Key, Value: v})
		}
	}
	return out
}

// Args renders Pairs as repeated -metadata arguments.
func (m Metadata) Args() []string {
	pairs := m.Pairs()
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, "-metadata", p.Key+"="+p.Value)
	}
	return args
}
