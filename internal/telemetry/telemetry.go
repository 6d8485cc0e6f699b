// Package telemetry sets up the engine's global structured logger, mirroring
// the teacher's internal/common/logger.go: console + rotating file + an
// in-memory ring buffer, configured once at process start and retrieved
// through a singleton thereafter.
package telemetry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/compmake/engine/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// Logger returns the global logger, falling back to a bare console logger if
// Init hasn't run yet (so library code never needs a nil check).
func Logger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		defer loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("telemetry: logger used before Init, falling back to console")
	}
	return globalLogger
}

// set stores logger as the global singleton.
func set(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// Init configures and installs the global logger from cfg.Logging, the way
// SetupLogger configures the teacher's console/file/memory writer stack. The
// memory writer is always attached regardless of the configured Output set;
// no command in this module reads it back.
func Init(cfg *config.Config) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile, hasConsole := false, false
	for _, o := range cfg.Logging.Output {
		switch o {
		case "file":
			hasFile = true
		case "stdout", "console":
			hasConsole = true
		}
	}

	if hasFile {
		logFile := cfg.Logging.FilePath
		if logFile == "" {
			logFile = "./logs/compute.log"
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			tmp := logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
			tmp.Warn().Err(err).Str("logs_dir", filepath.Dir(logFile)).Msg("failed to create log directory")
		} else {
			logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
		}
	}

	if hasConsole || !hasFile {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	// Always on, whatever Output lists.
	logger = logger.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(cfg.Logging.Level)

	set(logger)
	return logger
}

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if cfg != nil && cfg.Logging.TimeFormat != "" {
		timeFormat = cfg.Logging.TimeFormat
	}
	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024,
		MaxBackups:       3,
	}
}

// Stop flushes any remaining context logs before process exit. Safe to call
// more than once.
func Stop() {
	arborcommon.Stop()
}
