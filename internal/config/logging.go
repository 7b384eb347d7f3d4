package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cabb/almabatch/internal/logging"
)

// Logger is the bootstrap logger used before the CLI has configured logging.
//
//nolint:gochecknoglobals // Logger is intentionally global for application-wide structured logging
var Logger zerolog.Logger

// bootstrap holds the file behind Logger, if any.
//
//nolint:gochecknoglobals // Tracks the global logger's file for cleanup
var bootstrap logging.LogPathResult

// logMu guards Logger and bootstrap.
//
//nolint:gochecknoglobals // Guards the global logger state
var logMu sync.RWMutex

// InitLogger rebuilds Logger at level on stderr. With logToFile it writes
// to the configured log file instead, or almabatch.log in the temp
// directory when none is configured.
func InitLogger(level string, logToFile bool) error {
	logMu.Lock()
	defer logMu.Unlock()

	closeLogFileLocked()

	cfg := logging.Config{Level: level, Output: logging.OutputStderr}
	if logToFile {
		if err := EnsureLogDir(); err != nil {
			return err
		}
		cfg.Output = outputTypeFile
		if cfg.File = GetLogFile(); cfg.File == "" {
			cfg.File = filepath.Join(os.TempDir(), "almabatch.log")
		}
	}

	bootstrap = logging.NewLoggerWithPath(cfg)
	if logToFile && bootstrap.FallbackUsed {
		return fmt.Errorf("opening log file %s: %s", cfg.File, bootstrap.FallbackReason)
	}
	Logger = bootstrap.Logger
	return nil
}

// CloseLogFile closes the bootstrap log file, if any, and points Logger
// back at stderr.
func CloseLogFile() {
	logMu.Lock()
	defer logMu.Unlock()
	closeLogFileLocked()
}

func closeLogFileLocked() {
	if !bootstrap.UsingFile {
		return
	}
	_ = bootstrap.Close()
	bootstrap = logging.LogPathResult{}
	Logger = logging.NewLogger(logging.Config{Level: Logger.GetLevel().String()}, os.Stderr)
}

// GetLogger returns the bootstrap logger.
func GetLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return Logger
}

//nolint:gochecknoinits // intentional: package-level logger must be initialized before use
func init() {
	Logger = logging.NewLogger(logging.Config{Level: DefaultLogLevel}, os.Stderr)
}

// ToLoggingConfig converts config.LoggingConfig to logging.Config.
//
//   - Level, Format and the rotation settings are copied directly
//   - If File is set, Output becomes "file"
//   - If File is empty, Output defaults to "stderr"
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = outputTypeFile
	}

	return logging.Config{
		Level:      lc.Level,
		Format:     lc.Format,
		Output:     output,
		File:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
	}
}
