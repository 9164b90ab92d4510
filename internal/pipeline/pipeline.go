package pipeline

import (
	"context"
	"log/slog"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/library"
	"shelfarr/internal/logging"
	"shelfarr/internal/notifications"
	"shelfarr/internal/organizer"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

// Job types handled by this package.
const (
	JobAcquire  = "acquire"
	JobMonitor  = "monitor"
	JobOrganize = "organize"
	JobScan     = "scan"
	JobCleanup  = "cleanup"
)

// Result is the structured outcome every processor returns.
type Result = workflow.Result

// Submitter accepts follow-up jobs; satisfied by *workflow.Manager.
type Submitter interface {
	Submit(ctx context.Context, spec workflow.Spec) (*store.Job, error)
}

// Clients resolves download client adapters; satisfied by *downloader.Registry.
type Clients interface {
	Get(id string) (downloader.Client, error)
	ForProtocol(protocol downloader.Protocol) (downloader.Client, error)
	Mapping(id string) downloader.PathMapping
}

// Organizer places downloaded files in the library; satisfied by
// *organizer.Organizer.
type Organizer interface {
	Organize(ctx context.Context, req organizer.Request) (*organizer.Result, error)
}

// Deps bundles the collaborators shared by all processors.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Clients   Clients
	Organizer Organizer
	// Library is nil when library confirmation is disabled.
	Library   library.Searcher
	Notifier  notifications.Service
	Submitter Submitter
	Logger    *slog.Logger
	Now       func() time.Time
}

type processor struct {
	cfg       *config.Config
	store     *store.Store
	clients   Clients
	organizer Organizer
	library   library.Searcher
	notifier  notifications.Service
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time
}

func newProcessor(deps Deps, component string) *processor {
	cfg := deps.Config
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &processor{
		cfg:       cfg,
		store:     deps.Store,
		clients:   deps.Clients,
		organizer: deps.Organizer,
		library:   deps.Library,
		notifier:  notifier,
		submitter: deps.Submitter,
		logger:    logging.NewComponentLogger(deps.Logger, component),
		now:       now,
	}
}

// Handlers builds one handler per job type.
func Handlers(deps Deps) []workflow.Handler {
	return []workflow.Handler{
		NewAcquire(deps),
		NewMonitor(deps),
		NewOrganize(deps),
		NewScan(deps),
		NewCleanup(deps),
	}
}

// Register installs every processor on mgr.
func Register(mgr *workflow.Manager, deps Deps) {
	for _, handler := range Handlers(deps) {
		mgr.Register(handler)
	}
}
