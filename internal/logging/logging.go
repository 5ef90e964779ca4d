// Package logging builds the slog loggers used by the command-line tools.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to w. format is "text" (default, human
// readable), "logfmt" or "json".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = charmHandler(w, lvl, charmlog.TextFormatter)
	case "logfmt":
		h = charmHandler(w, lvl, charmlog.LogfmtFormatter)
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(&jobHandler{Handler: h}), nil
}

func charmHandler(w io.Writer, lvl slog.Level, f charmlog.Formatter) slog.Handler {
	return charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(lvl),
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Formatter:       f,
	})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type ctxKey struct{}

// WithJob tags ctx with a pipeline job name; loggers built by New add it to
// every record logged with that context.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, ctxKey{}, job)
}

// Job returns the job name stored by WithJob.
func Job(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

type jobHandler struct {
	slog.Handler
}

func (h *jobHandler) Handle(ctx context.Context, r slog.Record) error {
	if job := Job(ctx); job != "" {
		r.AddAttrs(slog.String("job", job))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *jobHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jobHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *jobHandler) WithGroup(name string) slog.Handler {
	return &jobHandler{Handler: h.Handler.WithGroup(name)}
}
