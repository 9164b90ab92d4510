package organizer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"shelfarr/internal/logging"
	"shelfarr/internal/services"
)

// libraryUnavailableErrors lists syscall errors that indicate the library is unavailable.
var libraryUnavailableErrors = []error{
	syscall.ENODEV,
	syscall.ENOTCONN,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
	syscall.ETIMEDOUT,
	syscall.EIO,
	syscall.ESTALE,
}

// isLibraryUnavailable checks whether an error indicates the library filesystem is unavailable.
func isLibraryUnavailable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range libraryUnavailableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// placementError tags filesystem failures: an unreachable mount is retried,
// anything else needs an operator.
func placementError(operation, message string, err error) error {
	if isLibraryUnavailable(err) {
		return services.Wrap(services.ErrTransient, "organizer", operation, message, err)
	}
	return services.Wrap(services.ErrConfiguration, "organizer", operation, message, err)
}

// ensureWritable creates dir when missing and verifies write access.
func ensureWritable(dir string) error {
	if dir == "" {
		return services.Wrap(services.ErrConfiguration, "organizer", "check media root", "paths.media_dir is not set", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return placementError("check media root", fmt.Sprintf("create %s", dir), err)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return placementError("check media root", fmt.Sprintf("%s is not writable", dir), err)
	}
	return nil
}

// warn records a best-effort failure on the result and logs it with the
// standard warning fields.
func warn(logger *slog.Logger, result *Result, eventType, message string, err error, hint string) {
	text := message
	if err != nil {
		text = message + ": " + err.Error()
	}
	result.Warnings = append(result.Warnings, text)
	logging.WarnWithContext(logger, message, eventType,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "organize continues without this step"),
	)
}
