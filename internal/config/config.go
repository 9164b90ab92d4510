package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	MediaDir string `toml:"media_dir"`
	TempDir  string `toml:"temp_dir"`
}

// PathMapping translates between the orchestrator's view of the filesystem
// (LocalPath) and the download client's view (RemotePath).
type PathMapping struct {
	RemotePath string `toml:"remote_path"`
	LocalPath  string `toml:"local_path"`
}

// DownloadClient describes one configured download client instance.
type DownloadClient struct {
	ID                 string      `toml:"id"`
	Type               string      `toml:"type"`
	URL                string      `toml:"url"`
	Username           string      `toml:"username"`
	Password           string      `toml:"password"`
	APIKey             string      `toml:"api_key"`
	Category           string      `toml:"category"`
	DownloadDir        string      `toml:"download_dir"`
	InsecureSkipVerify bool        `toml:"insecure_skip_verify"`
	Disabled           bool        `toml:"disabled"`
	TimeoutSeconds     int         `toml:"timeout_seconds"`
	PathMapping        PathMapping `toml:"path_mapping"`
}

// Fingerprint returns a stable digest over every connection-relevant field.
// Two clients with the same fingerprint can safely share a session.
func (d DownloadClient) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		d.ID, d.Type, d.URL, d.Username, d.Password, d.APIKey, d.Category, d.DownloadDir,
		fmt.Sprintf("%t", d.InsecureSkipVerify), fmt.Sprintf("%t", d.Disabled),
		fmt.Sprintf("%d", d.TimeoutSeconds), d.PathMapping.RemotePath, d.PathMapping.LocalPath,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Organizer contains configuration for library placement.
type Organizer struct {
	Template      string `toml:"template"`
	TagFiles      bool   `toml:"tag_files"`
	MergeChapters bool   `toml:"merge_chapters"`
	FetchCover    bool   `toml:"fetch_cover"`
	FetchEbook    bool   `toml:"fetch_ebook"`
	CoverMaxPx    int    `toml:"cover_max_px"`
	FetchTimeout  int    `toml:"fetch_timeout"`
}

// FFmpeg contains configuration for the transcoding toolchain.
type FFmpeg struct {
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
	FFprobeBinary        string  `toml:"ffprobe_binary"`
	TranscodeSpeedFactor float64 `toml:"transcode_speed_factor"`
	CopySpeedFactor      float64 `toml:"copy_speed_factor"`
	TimeoutMarginSeconds int     `toml:"timeout_margin_seconds"`
	ProbeConcurrency     int     `toml:"probe_concurrency"`
}

// Library contains configuration for Audiobookshelf library confirmation.
type Library struct {
	Enabled        bool    `toml:"enabled"`
	URL            string  `toml:"url"`
	APIKey         string  `toml:"api_key"`
	LibraryID      string  `toml:"library_id"`
	TriggerScan    bool    `toml:"trigger_scan"`
	MatchThreshold float64 `toml:"match_threshold"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Seeding contains per-source minimum seeding times in minutes. Zero means
// unlimited: downloads from that source are never removed automatically.
type Seeding struct {
	DefaultMinutes int            `toml:"default_minutes"`
	Sources        map[string]int `toml:"sources"`
}

// MinutesFor returns the configured minimum seeding time for a source name.
func (s Seeding) MinutesFor(source string) int {
	key := strings.ToLower(strings.TrimSpace(source))
	for name, minutes := range s.Sources {
		if strings.ToLower(strings.TrimSpace(name)) == key {
			return minutes
		}
	}
	return s.DefaultMinutes
}

// Workflow contains configuration for job scheduling.
type Workflow struct {
	Concurrency                int `toml:"concurrency"`
	PollIntervalMillis         int `toml:"poll_interval_ms"`
	MonitorInitialDelaySeconds int `toml:"monitor_initial_delay_seconds"`
	MonitorIntervalSeconds     int `toml:"monitor_interval_seconds"`
	MaxAttempts                int `toml:"max_attempts"`
	RetryBackoffSeconds        int `toml:"retry_backoff_seconds"`
	ScanIntervalMinutes        int `toml:"scan_interval_minutes"`
	CleanupIntervalMinutes     int `toml:"cleanup_interval_minutes"`
	NotFoundGraceSeconds       int `toml:"not_found_grace_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnDownloaded   bool   `toml:"on_downloaded"`
	OnAvailable    bool   `toml:"on_available"`
	OnFailed       bool   `toml:"on_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shelfarr.
//
// Configuration sections by subsystem:
//   - Paths: data, log, media and scratch directories
//   - DownloadClients: torrent and usenet clients, one table per instance
//   - Organizer: path template, tagging and sidecar toggles
//   - FFmpeg: chapter merge tuning
//   - Library: Audiobookshelf confirmation
//   - Seeding: per-source minimum seed times used by cleanup
//   - Workflow: job concurrency, delays and attempt caps
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths           Paths            `toml:"paths"`
	DownloadClients []DownloadClient `toml:"download_clients"`
	Organizer       Organizer        `toml:"organizer"`
	FFmpeg          FFmpeg           `toml:"ffmpeg"`
	Library         Library          `toml:"library"`
	Seeding         Seeding          `toml:"seeding"`
	Workflow        Workflow         `toml:"workflow"`
	Notifications   Notifications    `toml:"notifications"`
	Logging         Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shelfarr.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// MediaDir is created on a best-effort basis so the daemon can run when
// network storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.MediaDir) != "" {
		_ = os.MkdirAll(c.Paths.MediaDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "shelfarr.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "shelfarr.lock")
}

// DownloadClient returns the configured client with the given id.
func (c *Config) DownloadClient(id string) (DownloadClient, bool) {
	id = strings.TrimSpace(id)
	for _, client := range c.DownloadClients {
		if client.ID == id {
			return client, true
		}
	}
	return DownloadClient{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
