package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultHistorySize is how many records the process-wide history keeps.
const DefaultHistorySize = 500

// Entry is one record kept in the history.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Module  string            `json:"module"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// History keeps the most recent log records in a fixed-size ring.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory creates a history holding up to size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

func (h *History) add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Recent returns up to limit records, oldest first. An empty module matches
// every record; limit <= 0 means no limit.
func (h *History) Recent(module string, limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	out := ordered[:0]
	for _, e := range ordered {
		if module == "" || e.Module == module {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]Entry(nil), out...)
}

var history = NewHistory(DefaultHistorySize)

// Recent returns records from the process-wide history.
func Recent(module string, limit int) []Entry {
	return history.Recent(module, limit)
}

// historyHandler is a slog.Handler that records into a History.
type historyHandler struct {
	history *History
	level   slog.Leveler
	module  string
	attrs   map[string]string
	groups  []string
}

func newHistoryHandler(h *History, level slog.Leveler) *historyHandler {
	return &historyHandler{history: h, level: level, module: "app"}
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   strings.ToLower(r.Level.String()),
		Module:  h.module,
		Message: r.Message,
	}
	attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		if len(h.groups) == 0 && a.Key == "module" {
			e.Module = a.Value.String()
			return true
		}
		flatten(attrs, h.groups, a)
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.history.add(e)
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make(map[string]string, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		clone.attrs[k] = v
	}
	for _, a := range attrs {
		if len(h.groups) == 0 && a.Key == "module" {
			clone.module = a.Value.String()
			continue
		}
		flatten(clone.attrs, h.groups, a)
	}
	return &clone
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// flatten stores a under its dotted group path.
func flatten(dst map[string]string, groups []string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		if a.Key != "" {
			groups = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range v.Group() {
			flatten(dst, groups, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	switch v.Kind() {
	case slog.KindTime:
		dst[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			dst[key] = err.Error()
			return
		}
		dst[key] = fmt.Sprint(v.Any())
	default:
		dst[key] = v.String()
	}
}
