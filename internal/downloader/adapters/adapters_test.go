package adapters_test

import (
	"testing"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/downloader/adapters"
	"shelfarr/internal/logging"
)

func TestFactoriesCoverEveryClientType(t *testing.T) {
	cfgs := []config.DownloadClient{
		{ID: "qb", Type: config.ClientTypeQBittorrent, URL: "http://localhost:8080"},
		{ID: "tr", Type: config.ClientTypeTransmission, URL: "http://localhost:9091"},
		{ID: "dl", Type: config.ClientTypeDeluge, URL: "http://localhost:8112"},
		{ID: "sab", Type: config.ClientTypeSABnzbd, URL: "http://localhost:8085", APIKey: "k"},
	}
	reg := downloader.NewRegistry(adapters.Factories(), cfgs, logging.NewNop())
	for _, cfg := range cfgs {
		client, err := reg.Get(cfg.ID)
		if err != nil {
			t.Fatalf("Get(%s): %v", cfg.ID, err)
		}
		if client.Type() != cfg.Type || client.ID() != cfg.ID {
			t.Fatalf("client %s resolved to %s/%s", cfg.ID, client.ID(), client.Type())
		}
		if client.Protocol() != downloader.ProtocolForType(cfg.Type) {
			t.Fatalf("protocol mismatch for %s", cfg.ID)
		}
	}
}
