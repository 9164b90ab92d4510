package downloader

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"shelfarr/internal/config"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
)

// Factory constructs an adapter for one configured client.
type Factory func(cfg config.DownloadClient, opts ...Option) (Client, error)

type registryEntry struct {
	fingerprint string
	client      Client
}

// Registry resolves client ids to lazily constructed adapters. Each instance
// remembers the configuration fingerprint it was built from; Reload evicts
// instances whose configuration changed so a stale session is never reused
// against new credentials.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	configs   []config.DownloadClient
	entries   map[string]registryEntry
	options   []Option
	base      *slog.Logger
	logger    *slog.Logger
}

// NewRegistry builds a registry over cfgs. factories is keyed by client type.
func NewRegistry(factories map[string]Factory, cfgs []config.DownloadClient, logger *slog.Logger, opts ...Option) *Registry {
	return &Registry{
		factories: factories,
		configs:   append([]config.DownloadClient(nil), cfgs...),
		entries:   make(map[string]registryEntry),
		options:   opts,
		base:      logger,
		logger:    logging.NewComponentLogger(logger, "downloader-registry"),
	}
}

// Get returns the adapter for id, constructing it on first use.
func (r *Registry) Get(id string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configFor(id)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", fmt.Sprintf("no download client %q configured", id), nil)
	}
	if cfg.Disabled {
		return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", fmt.Sprintf("download client %q is disabled", id), nil)
	}
	return r.getLocked(cfg)
}

// ForProtocol returns the first enabled client speaking protocol.
func (r *Registry) ForProtocol(protocol Protocol) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range r.configs {
		if cfg.Disabled || ProtocolForType(cfg.Type) != protocol {
			continue
		}
		return r.getLocked(cfg)
	}
	return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", fmt.Sprintf("no enabled %s client configured", protocol), nil)
}

// Mapping returns the path mapping configured for id.
func (r *Registry) Mapping(id string) PathMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configFor(id); ok {
		return MappingFromConfig(cfg.PathMapping)
	}
	return PathMapping{}
}

// Configs returns a copy of the current client configuration.
func (r *Registry) Configs() []config.DownloadClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.DownloadClient(nil), r.configs...)
}

// Reload swaps in new client configuration. Instances whose fingerprint
// changed, or whose client was removed, are evicted and rebuilt on next use.
// It returns the ids that were evicted.
func (r *Registry) Reload(cfgs []config.DownloadClient) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]string, len(cfgs))
	for _, cfg := range cfgs {
		next[cfg.ID] = cfg.Fingerprint()
	}
	var evicted []string
	for id, entry := range r.entries {
		if fp, ok := next[id]; !ok || fp != entry.fingerprint {
			delete(r.entries, id)
			evicted = append(evicted, id)
		}
	}
	r.configs = append([]config.DownloadClient(nil), cfgs...)
	if len(evicted) > 0 {
		r.logger.Info("download clients invalidated", logging.String("clients", strings.Join(evicted, ",")))
	}
	return evicted
}

// Invalidate evicts every instance.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]registryEntry)
}

func (r *Registry) configFor(id string) (config.DownloadClient, bool) {
	id = strings.TrimSpace(id)
	for _, cfg := range r.configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return config.DownloadClient{}, false
}

func (r *Registry) getLocked(cfg config.DownloadClient) (Client, error) {
	fp := cfg.Fingerprint()
	if entry, ok := r.entries[cfg.ID]; ok && entry.fingerprint == fp {
		return entry.client, nil
	}
	factory, ok := r.factories[strings.ToLower(cfg.Type)]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", fmt.Sprintf("unsupported client type %q", cfg.Type), nil)
	}
	opts := append([]Option{WithLogger(r.base)}, r.options...)
	client, err := factory(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.entries[cfg.ID] = registryEntry{fingerprint: fp, client: client}
	r.logger.Debug("download client constructed", logging.String(logging.FieldClientID, cfg.ID), logging.String("type", cfg.Type))
	return client, nil
}
