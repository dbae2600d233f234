// Package logging wires slog for securestore processes. A device build
// logs to two places at most: stderr for an attached console and a
// rotating file for post-mortem pulls from units in the field. The core
// packages never touch a process-global logger; they take an injected
// *slog.Logger and fall back to Nop, with ForComponent tagging each
// subsystem's records so interleaved store and watcher output stays
// attributable.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options describes the sinks for one process.
type Options struct {
	Level     string // "debug", "info", "warn", "error"; default "info"
	Format    string // "text" (default) or "json"
	File      string // rotating log file; empty disables the file sink
	FileMaxMB int    // rotation threshold in MiB; default 5
	Quiet     bool   // drop the stderr sink
}

// FromEnv fills Options from SECURESTORE_LOG_* variables. Unset or
// unparsable values keep their defaults.
func FromEnv() Options {
	o := Options{
		Level:  os.Getenv("SECURESTORE_LOG_LEVEL"),
		Format: os.Getenv("SECURESTORE_LOG_FORMAT"),
		File:   strings.TrimSpace(os.Getenv("SECURESTORE_LOG_FILE")),
	}
	if n, err := strconv.Atoi(os.Getenv("SECURESTORE_LOG_FILE_MAX_MB")); err == nil && n > 0 {
		o.FileMaxMB = n
	}
	switch strings.ToLower(os.Getenv("SECURESTORE_LOG_QUIET")) {
	case "1", "true", "yes":
		o.Quiet = true
	}
	return o
}

// New builds the process logger. The returned closer owns the rotating
// file and is nil when no file sink is configured. With no sinks at all
// the logger discards.
func New(o Options) (*slog.Logger, io.WriteCloser) {
	level := parseLevel(o.Level)

	var sinks fanout
	var closer io.WriteCloser
	if o.File != "" {
		_ = os.MkdirAll(filepath.Dir(o.File), 0o755)
		maxMB := o.FileMaxMB
		if maxMB <= 0 {
			maxMB = 5
		}
		lj := &lumberjack.Logger{Filename: o.File, MaxSize: maxMB}
		closer = lj
		sinks = append(sinks, newHandler(lj, o.Format, level))
	}
	if !o.Quiet {
		sinks = append(sinks, newHandler(os.Stderr, o.Format, level))
	}

	switch len(sinks) {
	case 0:
		return Nop(), nil
	case 1:
		return slog.New(sinks[0]), closer
	default:
		return slog.New(sinks), closer
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything. Core components use it
// when the caller injects nothing.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ForComponent tags every record with the subsystem that produced it
// ("store", "watcher", ...). A nil logger yields Nop.
func ForComponent(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l.With(slog.String("component", name))
}

// fanout delivers each record to every sink.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
