package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Options selects the level and output format of the process logger.
type Options struct {
	Level  string
	Format string
	Prefix string
}

// New returns a slog logger backed by a charmbracelet handler writing to out.
// Unknown levels fall back to info and unknown formats to text.
func New(out io.Writer, opts Options) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	handler := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		ReportCaller:    strings.EqualFold(strings.TrimSpace(opts.Level), "debug"),
		Formatter:       parseFormat(opts.Format),
	})
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(charmlog.NewWithOptions(io.Discard, charmlog.Options{Level: charmlog.FatalLevel}))
}

func parseLevel(level string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func parseFormat(format string) charmlog.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return charmlog.JSONFormatter
	case "logfmt":
		return charmlog.LogfmtFormatter
	default:
		return charmlog.TextFormatter
	}
}
