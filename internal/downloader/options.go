package downloader

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/logging"
)

const (
	// DefaultRPCTimeout bounds status and control calls.
	DefaultRPCTimeout = 30 * time.Second
	// DefaultFetchTimeout bounds source (.torrent/.nzb) downloads.
	DefaultFetchTimeout = 60 * time.Second
	userAgent           = "shelfarr/0.1"
)

// DefaultNotFoundDelays is the retry schedule applied when a download is not
// yet visible.
var DefaultNotFoundDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options carries collaborators shared by every adapter.
type Options struct {
	// HTTPClient performs RPC calls. It must keep cookies for session-based
	// clients; NewHTTPClient builds one with a jar.
	HTTPClient HTTPDoer
	// Fetcher downloads .torrent/.nzb sources.
	Fetcher *Fetcher
	// NotFoundDelays overrides DefaultNotFoundDelays.
	NotFoundDelays []time.Duration
	// Sleep overrides the context-aware sleep used between retries.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithHTTPClient overrides the RPC HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(o *Options) { o.HTTPClient = doer }
}

// WithFetcher overrides the source fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(o *Options) { o.Fetcher = f }
}

// WithNotFoundDelays overrides the not-found retry schedule.
func WithNotFoundDelays(delays ...time.Duration) Option {
	return func(o *Options) {
		o.NotFoundDelays = make([]time.Duration, len(delays))
		copy(o.NotFoundDelays, delays)
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// NewOptions resolves opts against defaults derived from cfg.
func NewOptions(cfg config.DownloadClient, opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(cfg)
	}
	if o.Fetcher == nil {
		o.Fetcher = NewFetcher(nil, cfg.InsecureSkipVerify)
	}
	if o.NotFoundDelays == nil {
		o.NotFoundDelays = DefaultNotFoundDelays
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	o.Logger = logging.NewComponentLogger(o.Logger, "downloader").With(logging.String(logging.FieldClientID, cfg.ID))
	return o
}

// NewHTTPClient builds the RPC client for a configured download client: a
// cookie jar for session clients, the configured timeout and optional TLS
// verification bypass for self-signed seedboxes.
func NewHTTPClient(cfg config.DownloadClient) *http.Client {
	timeout := DefaultRPCTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	jar, _ := cookiejar.New(nil)
	return &http.Client{Timeout: timeout, Transport: transport, Jar: jar}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
