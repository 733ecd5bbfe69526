// Package logging configures the relay's structured logger.
//
// Log lines follow one of two formats depending on Config.Pretty:
//
//	<ISO8601_time> relay [<LEVEL>] <source>: <message>[ key=value ...]
//
// or, when Pretty is false, single-line JSON suitable for a log collector.
// The text format mirrors env_logger/pretty_env_logger's split in the
// upstream relay this module was ported from: humans get the readable
// form during local development, machines get JSON in production.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
)

// Config holds the logging configuration.
type Config struct {
	Level  slog.Level
	Pretty bool
}

// New builds and installs the default slog logger for the given service
// name, returning it for callers that want an explicit handle.
func New(serviceName string, config Config) *slog.Logger {
	var handler slog.Handler
	if config.Pretty {
		handler = NewServiceHandler(serviceName, config.Level, os.Stdout)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ServiceHandler is a slog.Handler producing human-readable, single-line
// output: timestamp, service name, level, caller package, and message.
type ServiceHandler struct {
	serviceName string
	level       slog.Level
	writer      io.Writer
	mu          *sync.Mutex
	attrs       []slog.Attr
	groups      []string
}

// NewServiceHandler creates a new ServiceHandler that writes to the given writer.
func NewServiceHandler(serviceName string, level slog.Level, writer io.Writer) *ServiceHandler {
	return &ServiceHandler{
		serviceName: serviceName,
		level:       level,
		writer:      writer,
		mu:          &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ServiceHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ServiceHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02T15:04:05.000-07:00")
	levelStr := r.Level.String()
	source := callerSource(r.PC)

	var parts []string
	for _, a := range h.resolveAttrs() {
		parts = append(parts, formatAttr(a, nil))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, h.groups))
		return true
	})

	msg := r.Message
	if len(parts) > 0 {
		msg = msg + " " + strings.Join(parts, " ")
	}

	line := fmt.Sprintf("%s %s [%s] %s: %s\n", timeStr, h.serviceName, levelStr, source, msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write([]byte(line))
	return err
}

// WithAttrs returns a new Handler with the given attributes pre-set.
func (h *ServiceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &ServiceHandler{
		serviceName: h.serviceName,
		level:       h.level,
		writer:      h.writer,
		mu:          h.mu,
		attrs:       newAttrs,
		groups:      h.groups,
	}
}

// WithGroup returns a new Handler with the given group name prepended to
// subsequent attribute keys.
func (h *ServiceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &ServiceHandler{
		serviceName: h.serviceName,
		level:       h.level,
		writer:      h.writer,
		mu:          h.mu,
		attrs:       h.attrs,
		groups:      newGroups,
	}
}

func callerSource(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.Function == "" {
		return "unknown"
	}
	segs := strings.Split(f.Function, "/")
	last := segs[len(segs)-1]
	if idx := strings.Index(last, "."); idx >= 0 {
		return last[:idx]
	}
	return last
}

func (h *ServiceHandler) resolveAttrs() []slog.Attr {
	if len(h.groups) == 0 {
		return h.attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(h.attrs))
	for i, a := range h.attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

func formatAttr(a slog.Attr, groups []string) string {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return fmt.Sprintf("%s=%s", key, a.Value.String())
}
