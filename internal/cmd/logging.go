package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/hargabyte/stsfit/internal/config"
)

// LogTimeFormat is the timestamp layout of console log lines.
const LogTimeFormat = "2006-01-02 15:04:05"

// newLogger writes human-readable logs to w. --verbose forces debug level.
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	if verbose {
		level = "debug"
	}
	if !config.IsValidLogLevel(level) {
		return zerolog.Nop(), fmt.Errorf("%w: unknown log level %q", config.ErrInvalidConfig, level)
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: LogTimeFormat}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func stderrLogger(level string) (zerolog.Logger, error) {
	return newLogger(os.Stderr, level)
}
