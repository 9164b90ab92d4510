package store

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an audiobook request.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSearching   Status = "searching"
	StatusDownloading Status = "downloading"
	StatusOrganizing  Status = "organizing"
	StatusDownloaded  Status = "downloaded"
	StatusAvailable   Status = "available"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDenied      Status = "denied"
)

var (
	// ErrTransitionRejected is returned when a request is not in one of the
	// statuses a transition may leave from.
	ErrTransitionRejected = errors.New("status transition rejected")
	// ErrRequestNotFound is returned when the request row does not exist.
	ErrRequestNotFound = errors.New("request not found")
)

var statusRank = map[Status]int{
	StatusPending:     0,
	StatusSearching:   1,
	StatusDownloading: 2,
	StatusOrganizing:  3,
	StatusDownloaded:  4,
	StatusAvailable:   5,
	StatusCompleted:   5,
}

var nonTerminal = []Status{
	StatusPending,
	StatusSearching,
	StatusDownloading,
	StatusOrganizing,
	StatusDownloaded,
}

// transitionSources lists, per target status, the statuses a request may be in
// for the transition to apply.
var transitionSources = map[Status][]Status{
	StatusPending:     {StatusFailed},
	StatusSearching:   {StatusPending},
	StatusDownloading: {StatusPending, StatusSearching},
	StatusOrganizing:  {StatusDownloading, StatusOrganizing},
	StatusDownloaded:  {StatusOrganizing},
	StatusAvailable:   {StatusDownloaded, StatusCompleted},
	StatusCompleted:   {StatusDownloaded},
	StatusFailed:      nonTerminal,
	StatusDenied:      nonTerminal,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusSearching,
		StatusDownloading,
		StatusOrganizing,
		StatusDownloaded,
		StatusAvailable,
		StatusCompleted,
		StatusFailed,
		StatusDenied,
	}
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no processor moves the request further.
// Completed stays eligible for a late library confirmation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAvailable, StatusFailed, StatusDenied:
		return true
	default:
		return false
	}
}

// Rank orders the forward statuses; failed and denied report -1.
func (s Status) Rank() int {
	if rank, ok := statusRank[s]; ok {
		return rank
	}
	return -1
}

// TransitionSources returns the statuses a request may leave from to reach target.
func TransitionSources(target Status) []Status {
	return append([]Status(nil), transitionSources[target]...)
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, source := range transitionSources[to] {
		if source == from {
			return true
		}
	}
	return false
}

// Request is a user's ask for one audiobook.
type Request struct {
	ID            int64
	Title         string
	Author        string
	Narrator      string
	ASIN          string
	Year          int
	Series        string
	SeriesPart    string
	CoverURL      string
	EbookURL      string
	Status        Status
	Progress      float64
	ErrorMessage  string
	StatusNote    string
	TargetPath    string
	LibraryItemID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// NewRequest carries the audiobook reference for CreateRequest.
type NewRequest struct {
	Title      string
	Author     string
	Narrator   string
	ASIN       string
	Year       int
	Series     string
	SeriesPart string
	CoverURL   string
	EbookURL   string
}

// TransitionUpdate carries the columns written alongside a status change.
// ErrorMessage and StatusNote are replaced (empty clears them); TargetPath and
// LibraryItemID are only written when non-empty; Progress only when non-nil.
type TransitionUpdate struct {
	ErrorMessage  string
	StatusNote    string
	TargetPath    string
	LibraryItemID string
	Progress      *float64
}

// DownloadHistory is an audit row for one acquisition attempt against one source.
type DownloadHistory struct {
	ID               int64
	RequestID        int64
	IndexerName      string
	ClientID         string
	ClientType       string
	DownloadClientID string
	TorrentName      string
	SizeBytes        int64
	Seeders          int
	Leechers         int
	Status           string
	Selected         bool
	DownloadPath     string
	ErrorMessage     string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CleanedAt        *time.Time
	CreatedAt        time.Time
}

// NewDownload describes a download attempt being recorded.
type NewDownload struct {
	RequestID        int64
	IndexerName      string
	ClientID         string
	ClientType       string
	DownloadClientID string
	TorrentName      string
	SizeBytes        int64
	Seeders          int
	Leechers         int
}

// HistoryUpdate carries monitor observations for a download_history row.
type HistoryUpdate struct {
	Status       string
	TorrentName  string
	SizeBytes    int64
	DownloadPath string
	ErrorMessage string
	Completed    bool
}

// CleanupCandidate pairs a selected history row with its request status.
type CleanupCandidate struct {
	History       DownloadHistory
	RequestStatus Status
	RequestTitle  string
}

// JobStatus is the scheduler state of a persisted job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is a persisted unit of scheduler work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	DedupeKey   string
	ParentJobID string
	RequestID   int64
	LastError   string
	ResultJSON  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewJob describes a job submission.
type NewJob struct {
	ID          string
	Type        string
	PayloadJSON string
	RunAt       time.Time
	DedupeKey   string
	ParentJobID string
	RequestID   int64
	MaxAttempts int
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses  []JobStatus
	Type      string
	RequestID int64
	Limit     int
}
