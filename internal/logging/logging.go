// Package logging provides structured logging setup with colored
// terminal output (via tint) and runtime-adjustable log levels.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is the global atomic log level. SetLevel changes it at runtime
// without restarting the process; cmd/caduceus sets it once at startup.
var Level = new(slog.LevelVar) // default: INFO

// serviceAttr tags every log line so a JSON-aggregated stream (Docker,
// the systemd journal) can be filtered to this gateway's own output
// alongside the agent subprocess and any other service sharing the host.
const serviceAttr = "caduceus"

// maxLoggedValueChars truncates any single string attribute past this
// length before it reaches the handler. Order payloads run up to 10000
// chars (see executor.maxPayloadChars) and agent responses are
// unbounded; logged at debug level verbatim, either would drown out
// everything around it.
const maxLoggedValueChars = 2000

// Setup initializes the global slog logger. When stderr is a TTY it
// uses tint for colored output; otherwise it falls back to JSON for
// structured log aggregation (Docker, CI).
func Setup() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:       Level,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: truncateLongValues,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:       Level,
			ReplaceAttr: truncateLongValues,
		})
	}
	slog.SetDefault(slog.New(handler).With("service", serviceAttr))
}

// truncateLongValues is a slog ReplaceAttr hook that caps string attr
// values at maxLoggedValueChars.
func truncateLongValues(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); len(s) > maxLoggedValueChars {
			a.Value = slog.StringValue(s[:maxLoggedValueChars] + "...(truncated)")
		}
	}
	return a
}

// SetLevel changes the global log level.
func SetLevel(l slog.Level) {
	Level.Set(l)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return Level.Level()
}

// ParseLevel converts a string like "debug", "info", "warn", "error"
// to the corresponding slog.Level. It is case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}
