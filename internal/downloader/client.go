package downloader

import (
	"context"
	"strings"
	"time"
)

// Protocol is the transfer family a client speaks.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Status is the normalized download state reported by every adapter.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusSeeding     Status = "seeding"
	StatusPaused      Status = "paused"
	StatusQueued      Status = "queued"
	StatusFailed      Status = "failed"
	StatusProcessing  Status = "processing"
	StatusChecking    Status = "checking"
)

// IsComplete reports whether the payload is fully on disk.
func (s Status) IsComplete() bool {
	return s == StatusCompleted || s == StatusSeeding
}

// Download is a normalized status snapshot. Path is the raw path as the
// client sees it.
type Download struct {
	ID          string
	Name        string
	Status      Status
	Size        int64
	BytesDone   int64
	Progress    float64
	Speed       int64
	ETA         time.Duration
	Category    string
	Path        string
	CompletedAt *time.Time
	Error       string
	SeedingTime time.Duration
	Ratio       float64
}

// Percent returns Progress scaled to 0-100.
func (d *Download) Percent() float64 {
	if d == nil {
		return 0
	}
	p := d.Progress * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// ConnectionResult is the outcome of TestConnection. It never carries an error
// value; failures are described by Message.
type ConnectionResult struct {
	Success bool
	Version string
	Message string
}

// Source describes what to download: a magnet URI, a URL to a .torrent or
// .nzb file, or (for tests and CLI use) a local file path.
type Source struct {
	URL   string
	Title string
}

// IsMagnet reports whether the source is a self-describing magnet link.
func (s Source) IsMagnet() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s.URL)), "magnet:")
}

// AddOptions tunes AddDownload.
type AddOptions struct {
	Category    string
	Priority    int
	StartPaused bool
	// SavePath is a local path; adapters map it to the client's view.
	SavePath string
}

// Client is the capability contract of a download client adapter.
type Client interface {
	ID() string
	Type() string
	Protocol() Protocol

	TestConnection(ctx context.Context) ConnectionResult
	// AddDownload returns the deterministic identifier of the download and
	// returns the existing identifier when the client already has it.
	AddDownload(ctx context.Context, src Source, opts AddOptions) (string, error)
	// GetDownload returns nil, nil when the download is still unknown after
	// the not-found retries.
	GetDownload(ctx context.Context, id string) (*Download, error)
	PauseDownload(ctx context.Context, id string) error
	ResumeDownload(ctx context.Context, id string) error
	DeleteDownload(ctx context.Context, id string, deleteFiles bool) error
	PostProcess(ctx context.Context, id string) error
	GetCategories(ctx context.Context) ([]string, error)
	SetCategory(ctx context.Context, id, name string) error
}

// ProtocolForType maps a configured client type to its protocol.
func ProtocolForType(clientType string) Protocol {
	if strings.EqualFold(strings.TrimSpace(clientType), "sabnzbd") {
		return ProtocolUsenet
	}
	return ProtocolTorrent
}
