package preflight

import (
	"context"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is implemented by the library client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// registry and lib may be nil, in which case their checks are skipped.
func RunAll(ctx context.Context, cfg *config.Config, registry *downloader.Registry, lib Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Media directory", cfg.Paths.MediaDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
	}

	for _, client := range cfg.DownloadClients {
		if client.Disabled {
			continue
		}
		if local := client.PathMapping.LocalPath; local != "" {
			results = append(results, CheckDirectoryAccess("Downloads for "+client.ID, local))
		}
		if registry != nil {
			results = append(results, CheckDownloadClient(ctx, registry, client.ID))
		}
	}

	if cfg.Library.Enabled && lib != nil {
		results = append(results, CheckLibrary(ctx, lib))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
