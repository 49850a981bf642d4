package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If SetupLogger hasn't run
// yet it returns a fallback console logger so early startup code never
// dereferences a nil logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(defaultWriterConfig(models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger - SetupLogger should be called during startup")
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// SetupLogger configures and initializes the global logger based on configuration.
func SetupLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	execPath, err := os.Executable()
	if err != nil {
		logger = logger.WithConsoleWriter(defaultWriterConfig(models.LogWriterTypeConsole, ""))
		logger.Warn().Err(err).Msg("failed to resolve executable path - using console logging only")
	} else {
		execDir := filepath.Dir(execPath)
		logsDir := filepath.Join(execDir, "logs")

		hasFile, hasConsole := false, false
		for _, output := range config.Logging.Output {
			switch output {
			case "file":
				hasFile = true
			case "stdout", "console":
				hasConsole = true
			}
		}

		if hasFile {
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				tempLogger := logger.WithConsoleWriter(defaultWriterConfig(models.LogWriterTypeConsole, ""))
				tempLogger.Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
			} else {
				logFile := filepath.Join(logsDir, "ingestify.log")
				logger = logger.WithFileWriter(withTimeFormat(config, models.LogWriterTypeFile, logFile))
			}
		}

		if hasConsole {
			logger = logger.WithConsoleWriter(withTimeFormat(config, models.LogWriterTypeConsole, ""))
		}

		if !hasFile && !hasConsole {
			logger = logger.WithConsoleWriter(defaultWriterConfig(models.LogWriterTypeConsole, ""))
			logger.Warn().Strs("configured_outputs", config.Logging.Output).Msg("no visible log outputs configured - falling back to console")
		}
	}

	logger = logger.WithMemoryWriter(defaultWriterConfig(models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(config.Logging.Level)

	InitLogger(logger)
	return logger
}

func withTimeFormat(config *Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	cfg := defaultWriterConfig(writerType, filename)
	if config != nil && config.Logging.TimeFormat != "" {
		cfg.TimeFormat = config.Logging.TimeFormat
	}
	return cfg
}

func defaultWriterConfig(writerType models.LogWriterType, filename string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       "15:04:05.000",
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024,
		MaxBackups:       3,
	}
}

// Stop flushes any remaining buffered logs before application shutdown.
// Safe to call multiple times.
func Stop() {
	arborcommon.Stop()
}
