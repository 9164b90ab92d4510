package chapters

import (
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"shelfarr/internal/textutil"
)

// bookTitleShare is the fraction of files that must carry the same embedded
// title for it to be treated as the book title.
const bookTitleShare = 0.8

// Order sources.
const (
	OrderMetadata = "metadata"
	OrderFilename = "filename"
)

// Ordering is the outcome of ordering a track set.
type Ordering struct {
	Tracks []Track
	Source string
	// Agreed is true when metadata and filename order coincide. Only
	// meaningful when Source is OrderMetadata.
	Agreed bool
}

// DetectBookTitle returns the embedded title shared by at least 80% of
// tracks, or "" when there is none.
func DetectBookTitle(tracks []Track) string {
	if len(tracks) == 0 {
		return ""
	}
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, t := range tracks {
		key := strings.ToLower(textutil.CollapseSpace(t.Title))
		if key == "" {
			continue
		}
		counts[key]++
		if _, ok := display[key]; !ok {
			display[key] = strings.TrimSpace(t.Title)
		}
	}
	for key, n := range counts {
		if float64(n) >= bookTitleShare*float64(len(tracks)) {
			return display[key]
		}
	}
	return ""
}

// OrderTracks picks the playback order. Embedded track numbers win when they
// are exactly 1..N; otherwise natural filename order is used.
func OrderTracks(tracks []Track) Ordering {
	natural := slices.Clone(tracks)
	slices.SortStableFunc(natural, func(a, b Track) int {
		return compareNatural(a.Path, b.Path)
	})
	if !sequentialTrackNumbers(tracks) {
		return Ordering{Tracks: natural, Source: OrderFilename}
	}
	byTrack := slices.Clone(tracks)
	slices.SortFunc(byTrack, func(a, b Track) int { return a.TrackNumber - b.TrackNumber })
	agreed := true
	for i := range byTrack {
		if byTrack[i].Path != natural[i].Path {
			agreed = false
			break
		}
	}
	return Ordering{Tracks: byTrack, Source: OrderMetadata, Agreed: agreed}
}

func compareNatural(a, b string) int {
	switch {
	case textutil.NaturalLess(a, b):
		return -1
	case textutil.NaturalLess(b, a):
		return 1
	}
	return 0
}

func sequentialTrackNumbers(tracks []Track) bool {
	seen := make([]bool, len(tracks)+1)
	for _, t := range tracks {
		n := t.TrackNumber
		if n < 1 || n > len(tracks) || seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}

var (
	leadingMarker = regexp.MustCompile(`(?i)^(?:(?:disc|disk|cd|part|pt|track|chapter|chap|ch)\.?\s*)?\d+(?:\s*[-_.:)\]]+\s*|\s+|$)`)
	trailingIndex = regexp.MustCompile(`\s*[-_]+\s*\d+$`)
	onlyDigits    = regexp.MustCompile(`^[\d\s._-]*$`)
)

// ChapterName derives a display name for the track at position index
// (zero-based): a cleaned filename, else the embedded title unless it is the
// book title, else "Chapter N".
func ChapterName(t Track, index int, bookTitle string) string {
	if name := nameFromFilename(t.Path, bookTitle); name != "" {
		return name
	}
	title := textutil.CollapseSpace(t.Title)
	if title != "" && !strings.EqualFold(title, textutil.CollapseSpace(bookTitle)) {
		return title
	}
	return "Chapter " + strconv.Itoa(index+1)
}

func nameFromFilename(path, bookTitle string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.ReplaceAll(base, "_", " ")
	name := textutil.CollapseSpace(leadingMarker.ReplaceAllString(base, ""))
	name = textutil.CollapseSpace(trailingIndex.ReplaceAllString(name, ""))
	name = strings.Trim(name, " -.")
	if name == "" || onlyDigits.MatchString(name) {
		return ""
	}
	if bookTitle != "" && textutil.NormalizeForMatch(name) == textutil.NormalizeForMatch(bookTitle) {
		return ""
	}
	return name
}
