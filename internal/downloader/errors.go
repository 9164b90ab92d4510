package downloader

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"shelfarr/internal/services"
)

// StatusError converts a non-2xx HTTP response into a marked error. The body
// is read (bounded) for the message.
func StatusError(component, operation string, resp *http.Response) error {
	if resp == nil {
		return services.Wrap(services.ErrTransient, component, operation, "no response", nil)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if msg != "" {
		detail += ": " + msg
	}
	return services.Wrap(MarkerForStatus(resp.StatusCode), component, operation, detail, nil)
}

// MarkerForStatus picks the services marker for an HTTP status code.
func MarkerForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.ErrAuthentication
	case code == http.StatusNotFound:
		return services.ErrNotFound
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return services.ErrTransient
	case code == http.StatusConflict || code == http.StatusUnprocessableEntity || code == http.StatusUnsupportedMediaType:
		return services.ErrRejected
	default:
		return services.ErrConfiguration
	}
}

// TransportError marks a failure to reach the client at all.
func TransportError(component, operation string, err error) error {
	return services.Wrap(services.ErrTransient, component, operation, "request failed", err)
}
