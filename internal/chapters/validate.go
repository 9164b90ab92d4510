package chapters

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"shelfarr/internal/logging"
	"shelfarr/internal/services"
)

const (
	durationTolerance = 0.02
	decodeTestSeconds = 10
	// minBytesPerSecond is a 16 kbps floor.
	minBytesPerSecond = 2000
)

// Validate checks a merged file against the expected duration: probed
// duration within 2%, plausible size, and clean decodes of the first and
// last ten seconds. It does not remove the file.
func (m *Merger) Validate(ctx context.Context, path string, expected time.Duration) error {
	fail := func(msg string, err error) error {
		logging.ErrorWithContext(m.logger, "merged output rejected", "merge_validation_failed",
			logging.String("path", path),
			logging.String("reason", msg),
			logging.String(logging.FieldErrorHint, "inspect source files for corruption"),
			logging.String(logging.FieldImpact, "book is organized per file instead"),
		)
		return services.Wrap(services.ErrContent, "chapters", "validate", msg, err)
	}

	res, err := m.prober.Probe(ctx, path)
	if err != nil {
		return fail("probe merged output", err)
	}
	actual := res.DurationSeconds()
	want := expected.Seconds()
	if want > 0 && math.Abs(actual-want)/want > durationTolerance {
		return fail(fmt.Sprintf("duration %.1fs deviates from expected %.1fs", actual, want), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail("stat merged output", err)
	}
	if minSize := int64(want * minBytesPerSecond); info.Size() < minSize {
		return fail(fmt.Sprintf("size %d bytes below minimum %d for duration", info.Size(), minSize), nil)
	}

	if err := m.runner.DecodeTest(ctx, path, decodeTestSeconds, false); err != nil {
		return fail("decode test of opening failed", err)
	}
	if err := m.runner.DecodeTest(ctx, path, decodeTestSeconds, true); err != nil {
		return fail("decode test of ending failed", err)
	}
	return nil
}
