// Package logging renders slog records as bracketed-level text lines.
//
// The stdio MCP transport owns stdout, so every logger built here is
// expected to write to stderr or another diagnostic sink.
package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// Handler formats records as "[LEVEL] message key=value ...".
// Attributes are rendered by an inner slog.TextHandler so quoting and
// grouping follow the standard text format.
type Handler struct {
	level slog.Leveler
	inner slog.Handler
	out   *sink
}

// sink is shared by a handler and every handler derived from it.
type sink struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

// NewHandler returns a Handler that writes to w. A nil level means INFO.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	out := &sink{w: w}
	inner := slog.NewTextHandler(&out.buf, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: dropBuiltins,
	})
	return &Handler{level: level, inner: inner, out: out}
}

// New returns a logger writing bracketed lines to w at level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(w, level))
}

func dropBuiltins(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey, slog.LevelKey, slog.MessageKey:
		return slog.Attr{}
	}
	return a
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()

	h.out.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	attrs := bytes.TrimSpace(h.out.buf.Bytes())

	line := make([]byte, 0, len(r.Message)+len(attrs)+16)
	line = append(line, '[')
	line = append(line, r.Level.String()...)
	line = append(line, "] "...)
	line = append(line, r.Message...)
	if len(attrs) > 0 {
		line = append(line, ' ')
		line = append(line, attrs...)
	}
	line = append(line, '\n')

	_, err := h.out.w.Write(line)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &Handler{level: h.level, inner: h.inner.WithAttrs(attrs), out: h.out}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{level: h.level, inner: h.inner.WithGroup(name), out: h.out}
}

// Level picks the minimum level from the verbosity flags. Quiet wins
// over verbose.
func Level(verbose, quiet bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelError
	case verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
