package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the level and output format of a logger.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Pretty bool   // human-readable console output instead of JSON
}

// LogConfigFromEnv reads NEXO_LOG_LEVEL and NEXO_LOG_PRETTY.
func LogConfigFromEnv() LogConfig {
	return LogConfig{
		Level:  os.Getenv("NEXO_LOG_LEVEL"),
		Pretty: os.Getenv("NEXO_LOG_PRETTY") == "1",
	}
}

// NewLogger creates a structured JSON logger tagged with component.
// Production default: info. Set via NEXO_LOG_LEVEL env var.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithConfig(component, LogConfigFromEnv())
}

// NewLoggerWithConfig creates a component logger writing to stdout.
func NewLoggerWithConfig(component string, cfg LogConfig) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(out, component, parseLogLevel(cfg.Level))
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// parseLogLevel falls back to info for empty or unknown levels.
func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
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
