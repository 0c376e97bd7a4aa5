package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a structured JSON logger for one component.
// Level comes from BTCFI_LOG_LEVEL (default info). When BTCFI_LOG_FILE is set
// the output is also written to a rotating file.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("BTCFI_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(output()).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

var (
	fileSinkOnce sync.Once
	fileSink     io.Writer
)

// output shares one rotating file across every component logger.
func output() io.Writer {
	path := os.Getenv("BTCFI_LOG_FILE")
	if path == "" {
		return os.Stdout
	}
	fileSinkOnce.Do(func() {
		fileSink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	})
	return zerolog.MultiLevelWriter(os.Stdout, fileSink)
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
