package library

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"shelfarr/internal/textutil"
)

const (
	// DefaultThreshold is the minimum combined score for a confirmed match.
	DefaultThreshold = 0.70

	titleWeight  = 0.7
	authorWeight = 0.3
)

// Query describes the requested book.
type Query struct {
	Title  string
	Author string
	ASIN   string
}

// Candidate is a scored library item.
type Candidate struct {
	Item  Item
	Score float64
}

var dice = metrics.NewSorensenDice()

// Similarity is the Sørensen–Dice bigram similarity of two normalized strings.
func Similarity(a, b string) float64 {
	a, b = textutil.NormalizeForMatch(a), textutil.NormalizeForMatch(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return strutil.Similarity(a, b, dice)
}

// Score rates item against q. Matching ASINs score 1. Without an author on
// either side the title similarity alone is used.
func Score(q Query, item Item) float64 {
	if asin := strings.TrimSpace(q.ASIN); asin != "" && strings.EqualFold(asin, strings.TrimSpace(item.ASIN)) {
		return 1
	}
	title := Similarity(q.Title, item.Title)
	if strings.TrimSpace(q.Author) == "" || strings.TrimSpace(item.Author) == "" {
		return title
	}
	return titleWeight*title + authorWeight*Similarity(q.Author, item.Author)
}

// Match returns the best-scoring item at or above threshold. A threshold
// <= 0 uses DefaultThreshold.
func Match(q Query, items []Item, threshold float64) (Candidate, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var best Candidate
	found := false
	for _, item := range items {
		score := Score(q, item)
		if score >= threshold && (!found || score > best.Score) {
			best = Candidate{Item: item, Score: score}
			found = true
		}
	}
	return best, found
}
