// Package logging builds the slog loggers shared by every testfleet process.
// stdout stays reserved for command output such as the plan table.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing format-encoded records at level and above
// to w. Timestamps are UTC; durations render as strings in both formats.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}
	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindTime:
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.KindDuration:
		a.Value = slog.StringValue(a.Value.Duration().String())
	}
	return a
}

// ParseLevel accepts debug, info, warn (or warning), error and slog offsets
// such as "debug+2". An empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// CheckFormat rejects encodings New does not know.
func CheckFormat(format string) error {
	switch strings.ToLower(format) {
	case "", FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("log format %q: want %s or %s", format, FormatText, FormatJSON)
}

// Discard drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Component tags logger with the component attribute. A nil logger yields
// Discard, so constructors accept nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", name)
}
