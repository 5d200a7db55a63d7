package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"
)

// CloudLogHandler is a slog.Handler that writes one JSON object per line
// with the severity field cloud log collectors expect.
type CloudLogHandler struct {
	writer io.Writer
	level  slog.Level
	attrs  map[string]interface{}
}

func NewCloudLogHandler(writer io.Writer, level slog.Level) *CloudLogHandler {
	return &CloudLogHandler{writer: writer, level: level}
}

func (h *CloudLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CloudLogHandler) Handle(_ context.Context, r slog.Record) error {
	entry := map[string]interface{}{
		"severity": severityFor(r.Level),
		"message":  r.Message,
		"time":     time.Now().Format(time.RFC3339Nano),
	}
	for k, v := range h.attrs {
		entry[k] = v
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry[attr.Key] = attr.Value.Any()
		return true
	})

	return json.NewEncoder(h.writer).Encode(entry)
}

func (h *CloudLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]interface{}, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, attr := range attrs {
		merged[attr.Key] = attr.Value.Any()
	}
	clone := *h
	clone.attrs = merged
	return &clone
}

func (h *CloudLogHandler) WithGroup(string) slog.Handler {
	// Groups are flattened; attribute keys are already namespaced.
	return h
}

func severityFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
