// Package observability sets up logging, metrics and HTTP request
// instrumentation.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig controls the process logger.
type LogConfig struct {
	App     string
	Level   string
	File    string // empty logs to the given writer
	NoColor bool
}

// InitLogger builds the process logger and installs it as the zerolog
// global. When cfg.File is set, output is appended there instead of out;
// the TUI owns the terminal in that case. The returned closer releases
// the file and is a no-op otherwise.
func InitLogger(cfg LogConfig, out io.Writer) (zerolog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	noColor := cfg.NoColor
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("opening log file: %w", err)
		}
		out, closer, noColor = f, f, true
	}

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", cfg.App).Logger()
	log.Logger = logger
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level. ok is false for
// empty or unknown names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
