package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human readable line per record:
//
//	2026-01-02T15:04:05Z INFO worker[enrich]: document saved doc_id=... took=12ms
//
// component and stage are lifted into the prefix; every other attribute
// follows the message as key=value.
type consoleHandler struct {
	out       *lockedWriter
	level     *slog.LevelVar
	preset    []pair
	groups    []string
	addSource bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(p []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(p)
	return err
}

type pair struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	pairs := append(make([]pair, 0, len(h.preset)+record.NumAttrs()), h.preset...)
	record.Attrs(func(attr slog.Attr) bool {
		pairs = appendPairs(pairs, h.groups, attr)
		return true
	})
	component, pairs := takeString(pairs, FieldComponent)
	stage, pairs := takeString(pairs, FieldStage)

	when := record.Time
	if when.IsZero() {
		when = time.Now()
	}

	var b strings.Builder
	b.WriteString(when.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	b.WriteByte(' ')
	switch {
	case stage != "":
		b.WriteString(component + "[" + stage + "]: ")
	case component != "":
		b.WriteString(component + ": ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			b.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
		}
	}
	for _, p := range pairs {
		b.WriteByte(' ')
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(renderValue(p.value)))
	}
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]pair(nil), h.preset...)
	for _, attr := range attrs {
		next.preset = appendPairs(next.preset, h.groups, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// appendPairs flattens attr into dotted keys under groups.
func appendPairs(dst []pair, groups []string, attr slog.Attr) []pair {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := groups
		if attr.Key != "" {
			inner = append(append([]string(nil), groups...), attr.Key)
		}
		for _, child := range value.Group() {
			dst = appendPairs(dst, inner, child)
		}
		return dst
	}
	if attr.Key == "" {
		return dst
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(dst, pair{key: key, value: value})
}

// takeString removes the first pair with key and returns its value.
func takeString(pairs []pair, key string) (string, []pair) {
	for i, p := range pairs {
		if p.key == key {
			return renderValue(p.value), append(pairs[:i:i], pairs[i+1:]...)
		}
	}
	return "", pairs
}

func renderValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

// levelLabel collapses custom levels onto the four standard names.
func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return slog.LevelError.String()
	case level >= slog.LevelWarn:
		return slog.LevelWarn.String()
	case level >= slog.LevelInfo:
		return slog.LevelInfo.String()
	}
	return slog.LevelDebug.String()
}
