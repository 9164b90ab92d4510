package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/testsupport"
)

type stubClient struct {
	cfg    config.DownloadClient
	result downloader.ConnectionResult
}

func (s *stubClient) ID() string                    { return s.cfg.ID }
func (s *stubClient) Type() string                  { return s.cfg.Type }
func (s *stubClient) Protocol() downloader.Protocol { return downloader.ProtocolForType(s.cfg.Type) }
func (s *stubClient) TestConnection(context.Context) downloader.ConnectionResult {
	return s.result
}
func (s *stubClient) AddDownload(context.Context, downloader.Source, downloader.AddOptions) (string, error) {
	return "", nil
}
func (s *stubClient) GetDownload(context.Context, string) (*downloader.Download, error) {
	return nil, nil
}
func (s *stubClient) PauseDownload(context.Context, string) error        { return nil }
func (s *stubClient) ResumeDownload(context.Context, string) error       { return nil }
func (s *stubClient) DeleteDownload(context.Context, string, bool) error { return nil }
func (s *stubClient) PostProcess(context.Context, string) error          { return nil }
func (s *stubClient) GetCategories(context.Context) ([]string, error)    { return nil, nil }
func (s *stubClient) SetCategory(context.Context, string, string) error  { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func registryFor(cfgs []config.DownloadClient, results map[string]downloader.ConnectionResult) *downloader.Registry {
	factory := func(cfg config.DownloadClient, _ ...downloader.Option) (downloader.Client, error) {
		return &stubClient{cfg: cfg, result: results[cfg.ID]}, nil
	}
	return downloader.NewRegistry(map[string]downloader.Factory{
		config.ClientTypeQBittorrent: factory,
		config.ClientTypeSABnzbd:     factory,
	}, cfgs, logging.NewNop())
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Empty(t *testing.T) {
	if result := CheckDirectoryAccess("test", ""); result.Passed {
		t.Fatal("expected failure for unconfigured path")
	}
}

func TestCheckDownloadClient(t *testing.T) {
	cfgs := []config.DownloadClient{
		{ID: "qb", Type: config.ClientTypeQBittorrent, URL: "http://qb"},
		{ID: "sab", Type: config.ClientTypeSABnzbd, URL: "http://sab", APIKey: "k"},
	}
	registry := registryFor(cfgs, map[string]downloader.ConnectionResult{
		"qb":  {Success: true, Version: "v4.6.2"},
		"sab": {Message: "authentication failed"},
	})

	ok := CheckDownloadClient(context.Background(), registry, "qb")
	if !ok.Passed || ok.Detail != "qbittorrent v4.6.2 reachable" {
		t.Fatalf("unexpected qb result: %+v", ok)
	}
	bad := CheckDownloadClient(context.Background(), registry, "sab")
	if bad.Passed || bad.Detail != "authentication failed" {
		t.Fatalf("unexpected sab result: %+v", bad)
	}
	missing := CheckDownloadClient(context.Background(), registry, "nope")
	if missing.Passed {
		t.Fatal("expected unknown client to fail")
	}
}

func TestCheckLibrary(t *testing.T) {
	if result := CheckLibrary(context.Background(), stubPinger{}); !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
	result := CheckLibrary(context.Background(), stubPinger{err: errors.New("401 unauthorized")})
	if result.Passed || result.Detail != "401 unauthorized" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg, nil, nil)
	if len(results) != 3 {
		t.Fatalf("expected 3 directory results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ClientsAndLibrary(t *testing.T) {
	downloads := t.TempDir()
	cfg := testsupport.NewConfig(t,
		testsupport.WithDownloadClient(config.DownloadClient{
			ID: "qb", Type: config.ClientTypeQBittorrent, URL: "http://qb",
			PathMapping: config.PathMapping{RemotePath: "/downloads", LocalPath: downloads},
		}),
		testsupport.WithDownloadClient(config.DownloadClient{
			ID: "off", Type: config.ClientTypeQBittorrent, URL: "http://off", Disabled: true,
		}),
	)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Library.Enabled = true
	registry := registryFor(cfg.DownloadClients, map[string]downloader.ConnectionResult{
		"qb": {Success: true},
	})

	results := RunAll(context.Background(), cfg, registry, stubPinger{err: errors.New("connection refused")})
	names := map[string]Result{}
	for _, r := range results {
		names[r.Name] = r
	}
	if _, ok := names["Client off"]; ok {
		t.Fatal("disabled client should be skipped")
	}
	if r, ok := names["Client qb"]; !ok || !r.Passed {
		t.Fatalf("expected passing qb check, got %+v", r)
	}
	if r, ok := names["Downloads for qb"]; !ok || !r.Passed {
		t.Fatalf("expected passing downloads check, got %+v", r)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Library" {
		t.Fatalf("expected only the library check to fail, got %+v", failed)
	}
}
