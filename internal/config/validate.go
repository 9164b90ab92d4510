package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Client type identifiers accepted in [[download_clients]].type.
const (
	ClientTypeQBittorrent  = "qbittorrent"
	ClientTypeTransmission = "transmission"
	ClientTypeDeluge       = "deluge"
	ClientTypeSABnzbd      = "sabnzbd"
)

var knownClientTypes = map[string]struct{}{
	ClientTypeQBittorrent:  {},
	ClientTypeTransmission: {},
	ClientTypeDeluge:       {},
	ClientTypeSABnzbd:      {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDownloadClients(); err != nil {
		return err
	}
	if err := c.validateOrganizer(); err != nil {
		return err
	}
	if err := c.validateLibrary(); err != nil {
		return err
	}
	if err := c.validateSeeding(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.MediaDir) == "" {
		return errors.New("paths.media_dir must be set")
	}
	return nil
}

func (c *Config) validateDownloadClients() error {
	seen := make(map[string]struct{}, len(c.DownloadClients))
	for _, client := range c.DownloadClients {
		if client.ID == "" {
			return errors.New("download_clients: every client needs an id or type")
		}
		if _, dup := seen[client.ID]; dup {
			return fmt.Errorf("download_clients: duplicate id %q", client.ID)
		}
		seen[client.ID] = struct{}{}
		if _, ok := knownClientTypes[client.Type]; !ok {
			return fmt.Errorf("download_clients[%s].type: unsupported value %q (expected qbittorrent, transmission, deluge or sabnzbd)", client.ID, client.Type)
		}
		if client.URL == "" {
			return fmt.Errorf("download_clients[%s].url must be set", client.ID)
		}
		if client.Type == ClientTypeSABnzbd && client.APIKey == "" {
			return fmt.Errorf("download_clients[%s].api_key must be set for sabnzbd", client.ID)
		}
		mapping := client.PathMapping
		if (mapping.LocalPath == "") != (mapping.RemotePath == "") {
			return fmt.Errorf("download_clients[%s].path_mapping needs both remote_path and local_path", client.ID)
		}
	}
	return nil
}

func (c *Config) validateOrganizer() error {
	tpl := c.Organizer.Template
	if filepath.IsAbs(tpl) || strings.HasPrefix(tpl, "/") || strings.HasPrefix(tpl, "\\") {
		return fmt.Errorf("organizer.template must be relative, got %q", tpl)
	}
	if !strings.Contains(tpl, "{title}") && !strings.Contains(tpl, "{asin}") {
		return errors.New("organizer.template must contain {title} or {asin}")
	}
	return nil
}

func (c *Config) validateLibrary() error {
	if c.Library.MatchThreshold < 0 || c.Library.MatchThreshold > 1 {
		return errors.New("library.match_threshold must be between 0 and 1")
	}
	if !c.Library.Enabled {
		return nil
	}
	if c.Library.URL == "" {
		return errors.New("library.url must be set when library.enabled is true")
	}
	if c.Library.APIKey == "" {
		return errors.New("library.api_key must be set when library.enabled is true (or export SHELFARR_ABS_TOKEN)")
	}
	if c.Library.LibraryID == "" {
		return errors.New("library.library_id must be set when library.enabled is true")
	}
	return nil
}

func (c *Config) validateSeeding() error {
	if c.Seeding.DefaultMinutes < 0 {
		return errors.New("seeding.default_minutes must be >= 0")
	}
	for name, minutes := range c.Seeding.Sources {
		if minutes < 0 {
			return fmt.Errorf("seeding.sources.%s must be >= 0", name)
		}
	}
	return nil
}
