package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrExternalTool   = errors.New("external tool error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrTransient      = errors.New("transient failure")
	ErrAuthentication = errors.New("authentication failed")
	ErrRejected       = errors.New("rejected by client")
	ErrContent        = errors.New("content error")
)

// Kind is the failure category a processor uses to decide between retrying,
// failing the request, degrading, or ignoring.
type Kind string

const (
	KindTransient        Kind = "transient"
	KindClientPermanent  Kind = "client_permanent"
	KindContentPermanent Kind = "content_permanent"
	KindBestEffort       Kind = "best_effort"
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var transientFragments = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"temporarily unavailable",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"eof",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"not found",
	"not yet",
	"database is locked",
}

var permanentFragments = []string{
	"unauthorized",
	"forbidden",
	"401",
	"403",
	"authentication",
	"api key incorrect",
	"invalid torrent",
	"invalid nzb",
	"rejected",
	"misconfigured",
	"unsupported",
}

// Classify sorts an error into a failure kind. Markers applied by Wrap win;
// otherwise the error text is matched because adapters and subprocesses
// surface plain error values. Unknown errors are treated as client-permanent
// so a request never stalls silently.
func Classify(err error) Kind {
	if err == nil {
		return KindBestEffort
	}
	switch {
	case errors.Is(err, ErrContent), errors.Is(err, ErrValidation):
		return KindContentPermanent
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrConfiguration), errors.Is(err, ErrRejected):
		return KindClientPermanent
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrNotFound):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range permanentFragments {
		if strings.Contains(msg, fragment) {
			return KindClientPermanent
		}
	}
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return KindTransient
		}
	}
	return KindClientPermanent
}

// IsTransient reports whether err should be retried rather than recorded.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == KindTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
