package organizer

import (
	"fmt"
	"os"
	"strings"

	"shelfarr/internal/services"
)

// validatePlaced verifies every placed audio file exists as a non-empty
// regular file.
func validatePlaced(paths []string) error {
	if len(paths) == 0 {
		return services.Wrap(services.ErrContent, "organizer", "validate output", "no audio files were placed", nil)
	}
	for _, path := range paths {
		clean := strings.TrimSpace(path)
		info, err := os.Stat(clean)
		if err != nil {
			return services.Wrap(services.ErrContent, "organizer", "validate output",
				fmt.Sprintf("placed file %q missing", clean), err)
		}
		if info.IsDir() {
			return services.Wrap(services.ErrContent, "organizer", "validate output",
				fmt.Sprintf("placed path %q is a directory", clean), nil)
		}
		if info.Size() == 0 {
			return services.Wrap(services.ErrContent, "organizer", "validate output",
				fmt.Sprintf("placed file %q is empty", clean), nil)
		}
	}
	return nil
}
