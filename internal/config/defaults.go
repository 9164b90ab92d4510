package config

const (
	defaultConfigPath                 = "~/.config/shelfarr/config.toml"
	defaultDataDir                    = "~/.local/share/shelfarr"
	defaultLogDir                     = "~/.local/share/shelfarr/logs"
	defaultMediaDir                   = "~/audiobooks"
	defaultTempDir                    = "~/.local/share/shelfarr/tmp"
	defaultTemplate                   = "{author}/{title}"
	defaultCoverMaxPx                 = 1000
	defaultFetchTimeout               = 120
	defaultFFmpegBinary               = "ffmpeg"
	defaultFFprobeBinary              = "ffprobe"
	defaultTranscodeSpeedFactor       = 0.5
	defaultCopySpeedFactor            = 0.05
	defaultTimeoutMarginSeconds       = 300
	defaultProbeConcurrency           = 4
	defaultMatchThreshold             = 0.70
	defaultLibraryTimeoutSeconds      = 30
	defaultClientTimeoutSeconds       = 30
	defaultConcurrency                = 3
	defaultPollIntervalMillis         = 1000
	defaultMonitorInitialDelaySeconds = 3
	defaultMonitorIntervalSeconds     = 10
	defaultMaxAttempts                = 5
	defaultRetryBackoffSeconds        = 15
	defaultScanIntervalMinutes        = 30
	defaultCleanupIntervalMinutes     = 60
	defaultNotFoundGraceSeconds       = 120
	defaultNotifyRequestTimeout       = 10
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			MediaDir: defaultMediaDir,
			TempDir:  defaultTempDir,
		},
		Organizer: Organizer{
			Template:      defaultTemplate,
			TagFiles:      true,
			MergeChapters: true,
			FetchCover:    true,
			FetchEbook:    false,
			CoverMaxPx:    defaultCoverMaxPx,
			FetchTimeout:  defaultFetchTimeout,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
			TranscodeSpeedFactor: defaultTranscodeSpeedFactor,
			CopySpeedFactor:      defaultCopySpeedFactor,
			TimeoutMarginSeconds: defaultTimeoutMarginSeconds,
			ProbeConcurrency:     defaultProbeConcurrency,
		},
		Library: Library{
			MatchThreshold: defaultMatchThreshold,
			TriggerScan:    true,
			TimeoutSeconds: defaultLibraryTimeoutSeconds,
		},
		Seeding: Seeding{
			Sources: map[string]int{},
		},
		Workflow: Workflow{
			Concurrency:                defaultConcurrency,
			PollIntervalMillis:         defaultPollIntervalMillis,
			MonitorInitialDelaySeconds: defaultMonitorInitialDelaySeconds,
			MonitorIntervalSeconds:     defaultMonitorIntervalSeconds,
			MaxAttempts:                defaultMaxAttempts,
			RetryBackoffSeconds:        defaultRetryBackoffSeconds,
			ScanIntervalMinutes:        defaultScanIntervalMinutes,
			CleanupIntervalMinutes:     defaultCleanupIntervalMinutes,
			NotFoundGraceSeconds:       defaultNotFoundGraceSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			OnDownloaded:   true,
			OnAvailable:    true,
			OnFailed:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
