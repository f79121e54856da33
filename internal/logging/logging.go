// Package logging builds the slog loggers used across the module: a terse
// text handler for interactive CLI use and a JSON handler for machine
// consumption.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode selects the record rendering style.
type Mode int

const (
	// ModeCLI renders one human-readable line per record.
	ModeCLI Mode = iota
	// ModeJSON renders each record as a JSON object.
	ModeJSON
)

// New constructs a logger writing to w in the requested mode. A nil level
// means slog.LevelInfo.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&textHandler{writer: w, level: level})
}

// NewCLI constructs a logger for terminal output.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeCLI, w, level)
}

// NewJSON constructs a logger emitting structured JSON records.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeJSON, w, level)
}

// Ensure returns logger, or the process default when logger is nil. Types
// with an optional Logger field call this once at the start of each method.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// textHandler renders records as
//
//	15:04:05 info  launching instance name=foundry-a1b2
//
// with attribute keys flattened through groups and values quoted only when
// they contain whitespace.
type textHandler struct {
	writer io.Writer
	level  slog.Leveler

	mu     sync.Mutex
	prefix string   // pre-rendered attrs from WithAttrs
	groups []string // open groups from WithGroup
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(ts.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	b.WriteByte(' ')
	b.WriteString(record.Message)
	b.WriteString(h.prefix)
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.groups, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, attr := range attrs {
		writeAttr(&b, h.groups, attr)
	}
	return &textHandler{
		writer: h.writer,
		level:  h.level,
		prefix: b.String(),
		groups: h.groups,
	}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &textHandler{
		writer: h.writer,
		level:  h.level,
		prefix: h.prefix,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn "
	case level >= slog.LevelInfo:
		return "info "
	default:
		return "debug"
	}
}

func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := append(append([]string(nil), groups...), attr.Key)
		for _, nested := range value.Group() {
			writeAttr(b, inner, nested)
		}
		return
	}
	if attr.Equal(slog.Attr{}) {
		return
	}

	b.WriteByte(' ')
	for _, g := range groups {
		b.WriteString(g)
		b.WriteByte('.')
	}
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(renderValue(value))
}

func renderValue(value slog.Value) string {
	var s string
	switch value.Kind() {
	case slog.KindString:
		s = value.String()
	case slog.KindTime:
		s = value.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		s = value.Duration().String()
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			s = err.Error()
		} else {
			s = fmt.Sprint(value.Any())
		}
	default:
		s = value.String()
	}
	if strings.ContainsAny(s, " \t\n\"") || s == "" {
		return strconv.Quote(s)
	}
	return s
}
