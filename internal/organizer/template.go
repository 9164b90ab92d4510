package organizer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"shelfarr/internal/services"
	"shelfarr/internal/textutil"
)

const (
	// DefaultTemplate is used when no template is configured.
	DefaultTemplate = "{author}/{title}"

	maxValueRunes   = 120
	maxSegmentRunes = 200
)

var (
	placeholderPattern = regexp.MustCompile(`\{([A-Za-z]+)\}`)
	emptyBrackets      = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
	driveLetter        = regexp.MustCompile(`^[A-Za-z]:`)
)

// Book carries the request metadata the organizer needs.
type Book struct {
	Title      string
	Author     string
	Narrator   string
	ASIN       string
	Year       string
	Series     string
	SeriesPart string
	CoverURL   string
	EbookURL   string
}

func (b Book) placeholders() map[string]string {
	return map[string]string{
		"author":     b.Author,
		"title":      b.Title,
		"narrator":   b.Narrator,
		"asin":       b.ASIN,
		"year":       b.Year,
		"series":     b.Series,
		"seriespart": b.SeriesPart,
	}
}

// ValidateTemplate rejects absolute templates, parent-directory segments and
// unknown placeholders.
func ValidateTemplate(template string) error {
	template = strings.TrimSpace(template)
	if template == "" {
		return nil
	}
	if strings.HasPrefix(template, "/") || strings.HasPrefix(template, `\`) || driveLetter.MatchString(template) || filepath.IsAbs(template) {
		return services.Wrap(services.ErrValidation, "organizer", "template", fmt.Sprintf("template %q must be relative", template), nil)
	}
	known := Book{}.placeholders()
	for _, segment := range splitSegments(template) {
		if strings.TrimSpace(segment) == ".." {
			return services.Wrap(services.ErrValidation, "organizer", "template", fmt.Sprintf("template %q contains '..'", template), nil)
		}
		for _, m := range placeholderPattern.FindAllStringSubmatch(segment, -1) {
			if _, ok := known[strings.ToLower(m[1])]; !ok {
				return services.Wrap(services.ErrValidation, "organizer", "template", fmt.Sprintf("unknown placeholder {%s}", m[1]), nil)
			}
		}
	}
	return nil
}

// ResolveTemplate substitutes sanitized book values into template and
// returns a relative directory. Segments that end up empty are dropped.
func ResolveTemplate(template string, book Book) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		template = DefaultTemplate
	}
	if err := ValidateTemplate(template); err != nil {
		return "", err
	}
	values := book.placeholders()
	var segments []string
	for _, segment := range splitSegments(template) {
		resolved := placeholderPattern.ReplaceAllStringFunc(segment, func(token string) string {
			key := strings.ToLower(token[1 : len(token)-1])
			return textutil.SanitizePathValue(values[key], maxValueRunes)
		})
		resolved = cleanSegment(resolved)
		if resolved == "" || resolved == "." || resolved == ".." {
			continue
		}
		segments = append(segments, resolved)
	}
	if len(segments) == 0 {
		return "", services.Wrap(services.ErrValidation, "organizer", "template",
			fmt.Sprintf("template %q resolved to an empty path", template), nil)
	}
	return filepath.Join(segments...), nil
}

func splitSegments(template string) []string {
	return strings.FieldsFunc(template, func(r rune) bool { return r == '/' || r == '\\' })
}

// cleanSegment removes brackets and separators left dangling by empty
// placeholders, e.g. "Title ()" or "Series - ".
func cleanSegment(segment string) string {
	for {
		next := emptyBrackets.ReplaceAllString(segment, "")
		if next == segment {
			break
		}
		segment = next
	}
	segment = textutil.SanitizePathValue(segment, 0)
	segment = strings.Trim(segment, " -_,.")
	segment = textutil.CollapseSpace(strings.ReplaceAll(segment, " - - ", " - "))
	return strings.Trim(textutil.Truncate(segment, maxSegmentRunes), " -_,.")
}
