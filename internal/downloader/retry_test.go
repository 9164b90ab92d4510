package downloader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/services"
)

func noSleepOptions(delays ...time.Duration) (downloader.Options, *[]time.Duration) {
	var slept []time.Duration
	o := downloader.NewOptions(config.DownloadClient{ID: "test"}, downloader.WithNotFoundDelays(delays...))
	o.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return o, &slept
}

func TestLookupWithRetryFindsLateDownload(t *testing.T) {
	o, slept := noSleepOptions(downloader.DefaultNotFoundDelays...)
	calls := 0
	dl, err := downloader.LookupWithRetry(context.Background(), o, func(context.Context) (*downloader.Download, error) {
		calls++
		if calls < 3 {
			return nil, services.Wrap(services.ErrNotFound, "test", "lookup", "missing", nil)
		}
		return &downloader.Download{ID: "abc"}, nil
	})
	if err != nil {
		t.Fatalf("LookupWithRetry: %v", err)
	}
	if dl == nil || dl.ID != "abc" {
		t.Fatalf("unexpected download: %+v", dl)
	}
	if len(*slept) != 2 || (*slept)[0] != 500*time.Millisecond || (*slept)[1] != time.Second {
		t.Fatalf("unexpected sleeps: %v", *slept)
	}
}

func TestLookupWithRetryReturnsNilAfterSchedule(t *testing.T) {
	o, slept := noSleepOptions(time.Millisecond, time.Millisecond)
	calls := 0
	dl, err := downloader.LookupWithRetry(context.Background(), o, func(context.Context) (*downloader.Download, error) {
		calls++
		return nil, nil
	})
	if err != nil || dl != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", dl, err)
	}
	if calls != 3 || len(*slept) != 2 {
		t.Fatalf("calls=%d sleeps=%d", calls, len(*slept))
	}
}

func TestLookupWithRetryStopsOnError(t *testing.T) {
	o, _ := noSleepOptions(time.Millisecond)
	boom := services.Wrap(services.ErrAuthentication, "test", "lookup", "denied", nil)
	calls := 0
	_, err := downloader.LookupWithRetry(context.Background(), o, func(context.Context) (*downloader.Download, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, services.ErrAuthentication) || calls != 1 {
		t.Fatalf("expected single auth failure, got %v after %d calls", err, calls)
	}
}

func TestWithReauthRetriesOnce(t *testing.T) {
	logins := 0
	calls := 0
	err := downloader.WithReauth(context.Background(),
		func(context.Context) error { logins++; return nil },
		func(context.Context) error {
			calls++
			if calls == 1 {
				return services.Wrap(services.ErrAuthentication, "test", "op", "HTTP 403", nil)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("WithReauth: %v", err)
	}
	if logins != 1 || calls != 2 {
		t.Fatalf("logins=%d calls=%d", logins, calls)
	}
}

func TestWithReauthDoesNotLoopOnPersistentAuthFailure(t *testing.T) {
	calls := 0
	err := downloader.WithReauth(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error {
			calls++
			return services.Wrap(services.ErrAuthentication, "test", "op", "HTTP 403", nil)
		})
	if !errors.Is(err, services.ErrAuthentication) || calls != 2 {
		t.Fatalf("expected auth failure after 2 calls, got %v after %d", err, calls)
	}
}

func TestIgnoreNotFound(t *testing.T) {
	if err := downloader.IgnoreNotFound(services.Wrap(services.ErrNotFound, "x", "y", "z", nil)); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	other := errors.New("other")
	if err := downloader.IgnoreNotFound(other); err != other {
		t.Fatalf("expected passthrough, got %v", err)
	}
}
