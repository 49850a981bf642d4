package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root application configuration, loaded from TOML with
// environment-variable overrides applied last.
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Processing  ProcessingConfig `toml:"processing"`
	Monitoring  MonitoringConfig `toml:"monitoring"`
}

// LoggingConfig controls arbor logger wiring.
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
}

// StorageConfig groups the two coupled stores plus the filesystem roots
// the core owns (§5 Shared resources).
type StorageConfig struct {
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// SQLiteConfig configures the metadata store (system of record).
type SQLiteConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	Environment    string `toml:"-"` // populated from Config.Environment at load time
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
	CacheSizeMB    int    `toml:"cache_size_mb"`
	WALMode        bool   `toml:"wal_mode"`
}

// BadgerConfig configures the status cache store.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// FilesystemConfig configures the scratch root and blob bucket roots.
type FilesystemConfig struct {
	ScratchRoot string `toml:"scratch_root"`
	BlobRoot    string `toml:"blob_root"` // parent of uploads/, audio/, pages/, results/
}

// QueueConfig configures the goqite-backed at-least-once queue (§4.E).
type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s"
	Concurrency       int    `toml:"concurrency"`        // worker pool size
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "30s"
	MaxReceive        int    `toml:"max_receive"`        // deliveries before dead-letter
	QueueName         string `toml:"queue_name"`
}

// ProcessingConfig holds submission-time limits (§6 configuration surface).
type ProcessingConfig struct {
	MaxFileSizeMB         int    `toml:"max_file_size_mb"`
	MaxAudioFileSizeMB    int    `toml:"max_audio_file_size_mb"`
	ConversionTimeoutSecs int    `toml:"conversion_timeout_seconds"`
	DoclingPreset         string `toml:"docling_preset"` // "fast", "balanced", "quality"
}

// MonitoringConfig configures the monitor loop's sweeps (§4.K).
type MonitoringConfig struct {
	Enabled                   bool `toml:"enabled"`
	StuckJobThresholdMinutes  int  `toml:"stuck_job_threshold_minutes"`
	CleanupDays               int  `toml:"cleanup_days"`
	AutoRetryEnabled          bool `toml:"auto_retry_enabled"`
	MaxRetryCount             int  `toml:"max_retry_count"`
	CheckIntervalMinutes      int  `toml:"check_interval_minutes"`
	BatchSize                 int  `toml:"batch_size"`
}

// NewDefaultConfig returns the configuration baseline. The monitoring
// values match the defaults named explicitly in §6; the other values are
// this repo's own defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/ingestify.db",
				BusyTimeoutMS: 5000,
				CacheSizeMB:   32,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			Filesystem: FilesystemConfig{
				ScratchRoot: "./data/scratch",
				BlobRoot:    "./data/blobs",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "30s",
			MaxReceive:        3,
			QueueName:         "jobs",
		},
		Processing: ProcessingConfig{
			MaxFileSizeMB:         200,
			MaxAudioFileSizeMB:    500,
			ConversionTimeoutSecs: 300,
			DoclingPreset:         "balanced",
		},
		Monitoring: MonitoringConfig{
			Enabled:                  true,
			StuckJobThresholdMinutes: 30,
			CleanupDays:              7,
			AutoRetryEnabled:         true,
			MaxRetryCount:            3,
			CheckIntervalMinutes:     5,
			BatchSize:                100,
		},
	}
}

// LoadFromFiles loads configuration from multiple TOML files with priority
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	config.Storage.SQLite.Environment = config.Environment
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("INGESTIFY_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("INGESTIFY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("INGESTIFY_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("INGESTIFY_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if concurrency := os.Getenv("INGESTIFY_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if interval := os.Getenv("INGESTIFY_MONITOR_CHECK_INTERVAL_MINUTES"); interval != "" {
		if m, err := strconv.Atoi(interval); err == nil {
			config.Monitoring.CheckIntervalMinutes = m
		}
	}
}

// ConversionTimeout returns the configured per-task conversion timeout as a
// time.Duration, falling back to the default when unset.
func (c *Config) ConversionTimeout() time.Duration {
	if c.Processing.ConversionTimeoutSecs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Processing.ConversionTimeoutSecs) * time.Second
}
