package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
)

// progressWords mark info messages that report a change to the graph.
var progressWords = []string{"merg", "commit"}

// ColorHandler is a line-oriented slog.Handler for terminals:
// - Error messages: Red
// - Warning messages: Yellow
// - Info messages about merges and commits: Green
// - Other messages: uncolored
type ColorHandler struct {
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
	mu     *sync.Mutex
}

// NewColorHandler creates a handler that writes to w.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ColorHandler{
		w:     w,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled implements slog.Handler
func (h *ColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler
func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	color := colorFor(r.Level, r.Message)

	var buf strings.Builder
	if !r.Time.IsZero() {
		buf.WriteString(r.Time.Format("2006-01-02 15:04:05"))
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Level.String())
	buf.WriteByte(' ')

	if color != "" {
		buf.WriteString(color)
	}
	buf.WriteString(r.Message)
	if color != "" {
		buf.WriteString(colorReset)
	}

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func colorFor(level slog.Level, msg string) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level == slog.LevelInfo:
		lower := strings.ToLower(msg)
		for _, w := range progressWords {
			if strings.Contains(lower, w) {
				return colorGreen
			}
		}
	}
	return ""
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, p, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(a.Value.String())
}

// WithAttrs implements slog.Handler
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		qualified = append(qualified, a)
	}

	c := *h
	c.attrs = qualified
	return &c
}

// WithGroup implements slog.Handler
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}
