package pipeline

import (
	"fmt"
	"strings"

	"shelfarr/internal/downloader"
	"shelfarr/internal/services"
)

// AcquirePayload hands a chosen source to a download client.
type AcquirePayload struct {
	RequestID   int64  `json:"request_id"`
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title,omitempty"`
	Indexer     string `json:"indexer,omitempty"`
	// ClientID pins a configured client; otherwise the first enabled client
	// for Protocol is used.
	ClientID  string `json:"client_id,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Category  string `json:"category,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Seeders   int    `json:"seeders,omitempty"`
	Leechers  int    `json:"leechers,omitempty"`
}

func (p AcquirePayload) validate() error {
	if p.RequestID <= 0 {
		return services.Wrap(services.ErrValidation, "acquire", "decode payload", "request_id is required", nil)
	}
	if strings.TrimSpace(p.SourceURL) == "" {
		return services.Wrap(services.ErrValidation, "acquire", "decode payload", "source_url is required", nil)
	}
	return nil
}

// protocol returns the explicit protocol or infers it from the source.
func (p AcquirePayload) protocol() downloader.Protocol {
	switch strings.ToLower(strings.TrimSpace(p.Protocol)) {
	case string(downloader.ProtocolUsenet):
		return downloader.ProtocolUsenet
	case string(downloader.ProtocolTorrent):
		return downloader.ProtocolTorrent
	}
	source := strings.ToLower(strings.TrimSpace(p.SourceURL))
	if before, _, ok := strings.Cut(source, "?"); ok {
		source = before
	}
	if strings.HasSuffix(source, ".nzb") {
		return downloader.ProtocolUsenet
	}
	return downloader.ProtocolTorrent
}

// MonitorPayload identifies the download a monitor job polls.
type MonitorPayload struct {
	RequestID  int64  `json:"request_id"`
	HistoryID  int64  `json:"history_id"`
	ClientID   string `json:"client_id"`
	DownloadID string `json:"download_id"`
	// LastLogged is the progress percent last written to the log.
	LastLogged float64 `json:"last_logged"`
}

func (p MonitorPayload) validate() error {
	if p.RequestID <= 0 || p.HistoryID <= 0 {
		return services.Wrap(services.ErrValidation, "monitor", "decode payload", "request_id and history_id are required", nil)
	}
	return nil
}

// OrganizePayload points the organizer at a finished download.
type OrganizePayload struct {
	RequestID  int64  `json:"request_id"`
	HistoryID  int64  `json:"history_id,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

func (p OrganizePayload) validate() error {
	if p.RequestID <= 0 {
		return services.Wrap(services.ErrValidation, "organize", "decode payload", "request_id is required", nil)
	}
	return nil
}

// ScanPayload reconciles organized requests with the library.
type ScanPayload struct {
	// RequestID limits the scan to one request.
	RequestID int64 `json:"request_id,omitempty"`
	// Path limits the scan to requests whose target lies under it.
	Path string `json:"path,omitempty"`
	// Partial=false forces a full library rescan before matching.
	Partial   *bool `json:"partial,omitempty"`
	Recurring bool  `json:"recurring,omitempty"`
}

func (p ScanPayload) forceRescan() bool {
	return p.Partial != nil && !*p.Partial
}

// CleanupPayload sweeps seeded downloads.
type CleanupPayload struct {
	Recurring bool `json:"recurring,omitempty"`
}

func dedupeKey(jobType string, requestID int64) string {
	return fmt.Sprintf("%s:%d", jobType, requestID)
}
