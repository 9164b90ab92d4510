// Package notifications pushes request outcomes to ntfy.
//
// Notifications fire when a request is downloaded, confirmed available in
// the library, or fails. Delivery is best-effort: callers log a returned
// error and move on. When no topic is configured NewService returns a no-op
// implementation.
package notifications
