package daemon

import (
	"fmt"
	"log/slog"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/downloader/adapters"
	"shelfarr/internal/library"
	"shelfarr/internal/notifications"
	"shelfarr/internal/organizer"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

// Runtime bundles the collaborators shared by the daemon and one-shot CLI
// commands.
type Runtime struct {
	Config    *config.Config
	Store     *store.Store
	Registry  *downloader.Registry
	Organizer *organizer.Organizer
	Library   library.Searcher
	Notifier  notifications.Service
	Manager   *workflow.Manager
	Logger    *slog.Logger
}

// RuntimeOption customizes NewRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	factories      map[string]downloader.Factory
	clientOptions  []downloader.Option
	organizerOpts  []organizer.Option
	library        library.Searcher
	notifier       notifications.Service
	managerOptions []workflow.Option
}

// WithFactories replaces the download client adapter factories.
func WithFactories(factories map[string]downloader.Factory) RuntimeOption {
	return func(o *runtimeOptions) { o.factories = factories }
}

// WithClientOptions passes options to every constructed download client.
func WithClientOptions(opts ...downloader.Option) RuntimeOption {
	return func(o *runtimeOptions) { o.clientOptions = append(o.clientOptions, opts...) }
}

// WithOrganizerOptions customizes the organizer.
func WithOrganizerOptions(opts ...organizer.Option) RuntimeOption {
	return func(o *runtimeOptions) { o.organizerOpts = append(o.organizerOpts, opts...) }
}

// WithLibrary replaces the library client built from configuration.
func WithLibrary(searcher library.Searcher) RuntimeOption {
	return func(o *runtimeOptions) { o.library = searcher }
}

// WithNotifier replaces the notification service built from configuration.
func WithNotifier(n notifications.Service) RuntimeOption {
	return func(o *runtimeOptions) { o.notifier = n }
}

// WithManagerOptions customizes the job manager.
func WithManagerOptions(opts ...workflow.Option) RuntimeOption {
	return func(o *runtimeOptions) { o.managerOptions = append(o.managerOptions, opts...) }
}

// NewRuntime opens the store and wires every job processor into a manager.
// The caller owns Close.
func NewRuntime(cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("runtime requires configuration")
	}
	options := runtimeOptions{factories: adapters.Factories()}
	for _, opt := range opts {
		opt(&options)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clientOpts := append([]downloader.Option{downloader.WithLogger(logger)}, options.clientOptions...)
	rt := &Runtime{
		Config:    cfg,
		Store:     st,
		Registry:  downloader.NewRegistry(options.factories, cfg.DownloadClients, logger, clientOpts...),
		Organizer: organizer.New(cfg, logger, options.organizerOpts...),
		Notifier:  options.notifier,
		Logger:    logger,
	}
	if options.library != nil {
		rt.Library = options.library
	} else if client := library.NewClient(cfg.Library); client != nil {
		rt.Library = client
	}
	if rt.Notifier == nil {
		rt.Notifier = notifications.NewService(cfg)
	}

	rt.Manager = workflow.NewManager(cfg, st, logger, options.managerOptions...)
	pipeline.Register(rt.Manager, pipeline.Deps{
		Config:    cfg,
		Store:     st,
		Clients:   rt.Registry,
		Organizer: rt.Organizer,
		Library:   rt.Library,
		Notifier:  rt.Notifier,
		Submitter: rt.Manager,
		Logger:    logger,
	})
	return rt, nil
}

// Close releases the store.
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
