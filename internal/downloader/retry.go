package downloader

import (
	"context"
	"errors"

	"shelfarr/internal/services"
)

// LookupWithRetry calls lookup until it returns a download, retrying after
// each of o.NotFoundDelays while lookup reports nil. Errors end the loop
// immediately; a nil result after the last delay is returned as nil, nil.
func LookupWithRetry(ctx context.Context, o Options, lookup func(context.Context) (*Download, error)) (*Download, error) {
	delays := o.NotFoundDelays
	sleep := o.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 0; ; attempt++ {
		dl, err := lookup(ctx)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		if dl != nil {
			return dl, nil
		}
		if attempt >= len(delays) {
			return nil, nil
		}
		if err := sleep(ctx, delays[attempt]); err != nil {
			return nil, err
		}
	}
}

// WithReauth runs op; when it fails with services.ErrAuthentication, login is
// invoked once and op retried once.
func WithReauth(ctx context.Context, login func(context.Context) error, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !errors.Is(err, services.ErrAuthentication) {
		return err
	}
	if loginErr := login(ctx); loginErr != nil {
		return loginErr
	}
	return op(ctx)
}

// IgnoreNotFound returns nil for services.ErrNotFound so control operations
// on vanished downloads stay idempotent.
func IgnoreNotFound(err error) error {
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	return err
}
