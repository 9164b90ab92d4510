package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"shelfarr/internal/config"
)

// Requirement defines an external dependency shelfarr relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external binaries the configured pipeline runs.
// ffmpeg is optional when neither chapter merging nor tagging is enabled.
func Requirements(cfg *config.Config) []Requirement {
	ffmpegNeeded := cfg.Organizer.MergeChapters || cfg.Organizer.TagFiles
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpeg.FFmpegBinary,
			Description: "Merges chapter files and rewrites container metadata",
			Optional:    !ffmpegNeeded,
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFmpeg.FFprobeBinary,
			Description: "Probes durations, bitrates and tags of audio files",
			Optional:    !cfg.Organizer.MergeChapters,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable, non-optional dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
