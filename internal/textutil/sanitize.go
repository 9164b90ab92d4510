package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", " -",
	"*", "-",
	"?", "",
	"\"", "'",
	"<", "",
	">", "",
	"|", "-",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, pipes and asterisks become dashes; other unsafe
// characters are removed. Whitespace is collapsed and the result trimmed.
func SanitizeFileName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	return CollapseSpace(stripControl(fileNameReplacer.Replace(name)))
}

// SanitizePathValue prepares one template value for use inside a path
// segment: NFC normalized, `<>:"/\|?*` and control characters stripped,
// whitespace collapsed, truncated to maxRunes runes (0 disables the cap) and
// trimmed of leading and trailing dots and spaces.
func SanitizePathValue(value string, maxRunes int) string {
	value = norm.NFC.String(value)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			b.WriteByte(' ')
			continue
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			continue
		}
		b.WriteRune(r)
	}
	out := CollapseSpace(b.String())
	out = Truncate(out, maxRunes)
	return strings.Trim(out, " .")
}

// CollapseSpace replaces runs of whitespace with a single space and trims.
func CollapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// Truncate shortens value to at most maxRunes runes. maxRunes <= 0 returns value unchanged.
func Truncate(value string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(value) <= maxRunes {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:maxRunes]))
}

func stripControl(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
