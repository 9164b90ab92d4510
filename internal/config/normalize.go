package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDownloadClients(); err != nil {
		return err
	}
	c.normalizeOrganizer()
	c.normalizeFFmpeg()
	c.normalizeLibrary()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDownloadClients() error {
	for i := range c.DownloadClients {
		client := &c.DownloadClients[i]
		client.ID = strings.TrimSpace(client.ID)
		client.Type = strings.ToLower(strings.TrimSpace(client.Type))
		if client.ID == "" {
			client.ID = client.Type
		}
		client.URL = strings.TrimRight(strings.TrimSpace(client.URL), "/")
		client.Username = strings.TrimSpace(client.Username)
		client.Category = strings.TrimSpace(client.Category)
		client.DownloadDir = strings.TrimSpace(client.DownloadDir)
		if client.TimeoutSeconds <= 0 {
			client.TimeoutSeconds = defaultClientTimeoutSeconds
		}

		envPrefix := "SHELFARR_" + envToken(client.ID) + "_"
		if client.Password == "" {
			if value, ok := os.LookupEnv(envPrefix + "PASSWORD"); ok {
				client.Password = value
			}
		}
		if strings.TrimSpace(client.APIKey) == "" {
			if value, ok := os.LookupEnv(envPrefix + "API_KEY"); ok {
				client.APIKey = strings.TrimSpace(value)
			}
		}
		client.APIKey = strings.TrimSpace(client.APIKey)

		var err error
		if client.PathMapping.LocalPath != "" {
			if client.PathMapping.LocalPath, err = expandPath(client.PathMapping.LocalPath); err != nil {
				return fmt.Errorf("download_clients[%s].path_mapping.local_path: %w", client.ID, err)
			}
		}
		client.PathMapping.RemotePath = strings.TrimRight(strings.TrimSpace(client.PathMapping.RemotePath), "/")
	}
	return nil
}

func (c *Config) normalizeOrganizer() {
	c.Organizer.Template = strings.TrimSpace(c.Organizer.Template)
	if c.Organizer.Template == "" {
		c.Organizer.Template = defaultTemplate
	}
	if c.Organizer.CoverMaxPx <= 0 {
		c.Organizer.CoverMaxPx = defaultCoverMaxPx
	}
	if c.Organizer.FetchTimeout <= 0 {
		c.Organizer.FetchTimeout = defaultFetchTimeout
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	if c.FFmpeg.TranscodeSpeedFactor <= 0 {
		c.FFmpeg.TranscodeSpeedFactor = defaultTranscodeSpeedFactor
	}
	if c.FFmpeg.CopySpeedFactor <= 0 {
		c.FFmpeg.CopySpeedFactor = defaultCopySpeedFactor
	}
	if c.FFmpeg.TimeoutMarginSeconds <= 0 {
		c.FFmpeg.TimeoutMarginSeconds = defaultTimeoutMarginSeconds
	}
	if c.FFmpeg.ProbeConcurrency <= 0 {
		c.FFmpeg.ProbeConcurrency = defaultProbeConcurrency
	}
}

func (c *Config) normalizeLibrary() {
	if c.Library.APIKey == "" {
		if value, ok := os.LookupEnv("SHELFARR_ABS_TOKEN"); ok {
			c.Library.APIKey = value
		}
	}
	c.Library.APIKey = strings.TrimSpace(c.Library.APIKey)
	c.Library.URL = strings.TrimRight(strings.TrimSpace(c.Library.URL), "/")
	c.Library.LibraryID = strings.TrimSpace(c.Library.LibraryID)
	if c.Library.MatchThreshold == 0 {
		c.Library.MatchThreshold = defaultMatchThreshold
	}
	if c.Library.TimeoutSeconds <= 0 {
		c.Library.TimeoutSeconds = defaultLibraryTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	w := &c.Workflow
	if w.Concurrency <= 0 {
		w.Concurrency = defaultConcurrency
	}
	if w.PollIntervalMillis <= 0 {
		w.PollIntervalMillis = defaultPollIntervalMillis
	}
	if w.MonitorInitialDelaySeconds < 0 {
		w.MonitorInitialDelaySeconds = defaultMonitorInitialDelaySeconds
	}
	if w.MonitorIntervalSeconds <= 0 {
		w.MonitorIntervalSeconds = defaultMonitorIntervalSeconds
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = defaultMaxAttempts
	}
	if w.RetryBackoffSeconds <= 0 {
		w.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if w.ScanIntervalMinutes <= 0 {
		w.ScanIntervalMinutes = defaultScanIntervalMinutes
	}
	if w.CleanupIntervalMinutes <= 0 {
		w.CleanupIntervalMinutes = defaultCleanupIntervalMinutes
	}
	if w.NotFoundGraceSeconds < 0 {
		w.NotFoundGraceSeconds = defaultNotFoundGraceSeconds
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SHELFARR_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func envToken(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
