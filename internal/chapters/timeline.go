package chapters

import (
	"math"
	"strconv"
	"strings"

	"shelfarr/internal/tagger"
)

// Chapter is one marker in the merged file, in milliseconds.
type Chapter struct {
	Title   string
	StartMs int64
	EndMs   int64
	Source  string
}

// BuildTimeline lays ordered tracks end to end. Each duration is rounded to
// whole milliseconds once, so the final end equals the sum of the rounded
// durations exactly.
func BuildTimeline(tracks []Track, bookTitle string) []Chapter {
	chapters := make([]Chapter, 0, len(tracks))
	var offset int64
	for i, t := range tracks {
		length := int64(math.Round(t.Duration * 1000))
		chapters = append(chapters, Chapter{
			Title:   ChapterName(t, i, bookTitle),
			StartMs: offset,
			EndMs:   offset + length,
			Source:  t.Path,
		})
		offset += length
	}
	return chapters
}

// TotalMs returns the end of the last chapter.
func TotalMs(chapters []Chapter) int64 {
	if len(chapters) == 0 {
		return 0
	}
	return chapters[len(chapters)-1].EndMs
}

var metadataEscaper = strings.NewReplacer(
	`\`, `\\`,
	"=", `\=`,
	";", `\;`,
	"#", `\#`,
	"\n", "\\\n",
)

// FFMetadata renders an FFMETADATA1 document carrying book tags and the
// chapter timeline.
func FFMetadata(meta tagger.Metadata, chapters []Chapter) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	for _, p := range meta.Pairs() {
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(metadataEscaper.Replace(p.Value))
		b.WriteByte('\n')
	}
	for _, ch := range chapters {
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		b.WriteString("START=" + strconv.FormatInt(ch.StartMs, 10) + "\n")
		b.WriteString("END=" + strconv.FormatInt(ch.EndMs, 10) + "\n")
		b.WriteString("title=" + metadataEscaper.Replace(ch.Title) + "\n")
	}
	return b.String()
}

// ConcatList renders an ffmpeg concat demuxer list for paths.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
