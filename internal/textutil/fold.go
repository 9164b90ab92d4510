package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketSuffix   = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]\s*$`)
	leadingArticles = []string{"the ", "a ", "an "}
)

// Fold lowercases value and strips diacritics ("Brontë" → "bronte").
func Fold(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, value)
	if err != nil {
		stripped = value
	}
	// Casers carry state; build one per call.
	return cases.Fold().String(stripped)
}

// NormalizeForMatch reduces a title or name to the form used for fuzzy
// comparison: trailing bracketed qualifiers ("(Unabridged)", "[Book 2]") are
// removed, then it is folded, punctuation is dropped, a leading article is
// removed and whitespace is collapsed.
func NormalizeForMatch(value string) string {
	value = strings.TrimSpace(value)
	for {
		trimmed := bracketSuffix.ReplaceAllString(value, "")
		if trimmed == value || trimmed == "" {
			break
		}
		value = trimmed
	}
	value = Fold(value)
	value = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, value)
	value = CollapseSpace(value)
	for _, article := range leadingArticles {
		if strings.HasPrefix(value, article) && len(value) > len(article) {
			value = value[len(article):]
			break
		}
	}
	return value
}
