// Package logging builds the process slog handler: colorized tint output on
// a terminal, JSON everywhere else.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Format selects the handler.
type Format string

const (
	// FormatAuto picks pretty on a terminal and JSON otherwise.
	FormatAuto   Format = "auto"
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// Config configures the logger.
type Config struct {
	Level  string
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler returns the handler for cfg. An unknown level falls back to
// info; the error is returned so the caller can report it once logging works.
func NewHandler(cfg Config) (slog.Handler, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level, err := ParseLevel(cfg.Level)

	if usePretty(Format(strings.ToLower(cfg.Format)), out) {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		}), err
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}), err
}

// Setup installs the handler for cfg as the slog default.
func Setup(cfg Config) error {
	h, err := NewHandler(cfg)
	slog.SetDefault(slog.New(h))
	return err
}

func usePretty(f Format, out io.Writer) bool {
	switch f {
	case FormatPretty:
		return true
	case FormatJSON:
		return false
	default:
		return isTerminal(out)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
