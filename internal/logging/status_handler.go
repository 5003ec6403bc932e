package logging

import (
	"context"
	"log/slog"
	"strings"
)

// StatusFunc receives user-facing status lines.
type StatusFunc func(level slog.Level, msg string)

// StatusHandler forwards records at or above a threshold to a StatusFunc.
// Attributes are dropped except for the error, which is appended to the
// message, so the sink sees one short line per event.
type StatusHandler struct {
	sink  StatusFunc
	level slog.Leveler
	attrs []slog.Attr
}

// NewStatusHandler builds a handler for sink. A nil level defaults to info.
func NewStatusHandler(sink StatusFunc, level slog.Leveler) *StatusHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &StatusHandler{sink: sink, level: level}
}

func (h *StatusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.sink != nil && level >= h.level.Level()
}

func (h *StatusHandler) Handle(_ context.Context, record slog.Record) error {
	if h.sink == nil || record.Level < h.level.Level() {
		return nil
	}
	var errText string
	find := func(attr slog.Attr) bool {
		if attr.Key == "error" {
			errText = attrString(attr.Value)
			return false
		}
		return true
	}
	for _, attr := range h.attrs {
		if !find(attr) {
			break
		}
	}
	record.Attrs(find)

	msg := strings.TrimSpace(record.Message)
	if errText != "" {
		msg += ": " + errText
	}
	h.sink(record.Level, msg)
	return nil
}

func (h *StatusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *StatusHandler) WithGroup(string) slog.Handler {
	return h
}
