package textutil

import (
	"sort"
	"strings"
	"testing"
)

func TestNaturalLessOrdersNumericRuns(t *testing.T) {
	names := []string{"ch10.mp3", "ch2.mp3", "ch1.mp3"}
	sort.Slice(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	want := []string{"ch1.mp3", "ch2.mp3", "ch10.mp3"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestNaturalLessCases(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Part 9", "Part 10", true},
		{"Part 10", "Part 9", false},
		{"001 Intro", "002 Start", true},
		{"Disc 1 - 12", "Disc 2 - 01", true},
		{"a", "B", true},
		{"track", "track1", true},
		{"01", "1", true},
		{"1", "01", false},
		{"same", "same", false},
	}
	for _, tt := range tests {
		if got := NaturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSanitizePathValue(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Mistborn: The Final Empire", 0, "Mistborn The Final Empire"},
		{"  AC/DC  \t Story ", 0, "AC DC Story"},
		{"What?*<>|\"", 0, "What"},
		{"...hidden.", 0, "hidden"},
		{"line\nbreak", 0, "linebreak"},
		{"abcdefghij", 4, "abcd"},
		{"Brontë", 0, "Brontë"},
	}
	for _, tt := range tests {
		if got := SanitizePathValue(tt.in, tt.max); got != tt.want {
			t.Errorf("SanitizePathValue(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	got := SanitizeFileName(`Book: "Title" 1/2?`)
	if strings.ContainsAny(got, `:"/?`) {
		t.Fatalf("unsafe characters left in %q", got)
	}
	if got != "Book - 'Title' 1-2" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}

func TestNormalizeForMatch(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Way of Kings (Unabridged)", "way of kings"},
		{"Brontë's Jane Eyre [Book 1]", "brontes jane eyre"},
		{"  An   Ember in the Ashes ", "ember in the ashes"},
		{"J.R.R. Tolkien", "j r r tolkien"},
		{"A", "a"},
	}
	for _, tt := range tests {
		if got := NormalizeForMatch(tt.in); got != tt.want {
			t.Errorf("NormalizeForMatch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
