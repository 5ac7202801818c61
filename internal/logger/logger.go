package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu         sync.RWMutex
	defaultLog zerolog.Logger
	logDir     string
)

func init() {
	defaultLog = zerolog.New(newConsoleLogger()).With().Timestamp().Logger()
}

// Setup configures the process-wide log level and the directory for rotated
// log files. Safe to call again after a config reload.
func Setup(dir, level string) {
	mu.Lock()
	defer mu.Unlock()
	logDir = dir
	zerolog.SetGlobalLevel(parseLevel(level))
	defaultLog = newLogger("rdtclient")
}

// Default returns the process logger.
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLog
}

// New returns a child logger tagged with a component name, writing to the
// console and to a rotated file named after the component.
func New(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return newLogger(component)
}

// GetLogPath returns the main process log file, or "" when file logging
// is disabled.
func GetLogPath() string {
	mu.RLock()
	defer mu.RUnlock()
	if logDir == "" {
		return ""
	}
	return filepath.Join(logDir, "rdtclient.log")
}

func newLogger(component string) zerolog.Logger {
	writers := []io.Writer{newConsoleLogger()}
	if logDir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, component+".log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func newConsoleLogger() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
