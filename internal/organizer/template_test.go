package organizer

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"shelfarr/internal/services"
)

func TestResolveTemplate(t *testing.T) {
	book := Book{
		Title:      "The Way: of Kings?",
		Author:     "Brandon Sanderson",
		Narrator:   "Michael Kramer",
		ASIN:       "B003P2WO5E",
		Year:       "2010",
		Series:     "Stormlight",
		SeriesPart: "1",
	}
	cases := []struct {
		template string
		book     Book
		want     string
	}{
		{"", book, filepath.Join("Brandon Sanderson", "The Way of Kings")},
		{"{author}/{series}/{seriesPart} - {title} ({year})", book, filepath.Join("Brandon Sanderson", "Stormlight", "1 - The Way of Kings (2010)")},
		{"{author}/{series}/{title} [{asin}]", Book{Title: "Solo", Author: "A"}, filepath.Join("A", "Solo")},
		{"{author}/{title} ({narrator})", Book{Title: "Solo", Author: "A"}, filepath.Join("A", "Solo")},
		{"{author}/{title}", Book{Title: "../../etc", Author: "x/y"}, filepath.Join("x y", "etc")},
	}
	for _, tc := range cases {
		got, err := ResolveTemplate(tc.template, tc.book)
		if err != nil {
			t.Fatalf("ResolveTemplate(%q): %v", tc.template, err)
		}
		if got != tc.want {
			t.Errorf("ResolveTemplate(%q) = %q, want %q", tc.template, got, tc.want)
		}
	}
}

func TestResolveTemplateCapsLengths(t *testing.T) {
	long := strings.Repeat("a", 300)
	got, err := ResolveTemplate("{title}", Book{Title: long})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != maxValueRunes {
		t.Fatalf("value not capped: %d", len(got))
	}
	got, err = ResolveTemplate("{title} {author}", Book{Title: long, Author: long})
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(got)) > maxSegmentRunes {
		t.Fatalf("segment not capped: %d", len([]rune(got)))
	}
}

func TestValidateTemplateRejectsUnsafe(t *testing.T) {
	for _, tmpl := range []string{"/abs/{title}", `C:\books\{title}`, "{author}/../{title}", "{author}/{publisher}"} {
		err := ValidateTemplate(tmpl)
		if !errors.Is(err, services.ErrValidation) {
			t.Errorf("ValidateTemplate(%q) = %v, want validation error", tmpl, err)
		}
	}
	if _, err := ResolveTemplate("{series}", Book{Title: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty resolution should fail, got %v", err)
	}
}
