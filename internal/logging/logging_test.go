package logging

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"
)

func TestServiceHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	handler := NewServiceHandler("relay", slog.LevelDebug, &buf)
	logger := slog.New(handler)

	logger.Info("hello world")

	line := buf.String()
	re := regexp.MustCompile(
		`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2} relay \[INFO\] [^ ]*: hello world\n$`,
	)
	if !re.MatchString(line) {
		t.Errorf("log line format mismatch:\n  got: %q", line)
	}
}

func TestServiceHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	handler := NewServiceHandler("relay", slog.LevelWarn, &buf)
	logger := slog.New(handler)

	logger.Debug("should not appear")
	logger.Info("should not appear")
	logger.Warn("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[WARN]") {
		t.Errorf("expected WARN level, got: %s", lines[0])
	}
}

func TestServiceHandlerStructuredAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := NewServiceHandler("relay", slog.LevelDebug, &buf)
	logger := slog.New(handler)

	logger.Info("delivered", slog.Int("attempt", 2), slog.String("inbox", "https://b.example/inbox"))

	line := buf.String()
	if !strings.Contains(line, "attempt=2") || !strings.Contains(line, "inbox=https://b.example/inbox") {
		t.Errorf("missing structured attrs in: %s", line)
	}
}

func TestServiceHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewServiceHandler("relay", slog.LevelDebug, &buf)
	logger := slog.New(handler).WithGroup("jobs").With(slog.String("variant", "deliver"))

	logger.Info("claimed")

	line := buf.String()
	if !strings.Contains(line, "jobs.variant=deliver") {
		t.Errorf("expected jobs.variant=deliver, got: %s", line)
	}
}

func TestServiceHandlerEnabled(t *testing.T) {
	handler := NewServiceHandler("relay", slog.LevelWarn, nil)
	ctx := context.Background()

	if handler.Enabled(ctx, slog.LevelInfo) {
		t.Error("INFO should be disabled when level is WARN")
	}
	if !handler.Enabled(ctx, slog.LevelError) {
		t.Error("ERROR should be enabled when level is WARN")
	}
}

func TestCallerSourceZeroPC(t *testing.T) {
	if src := callerSource(0); src != "unknown" {
		t.Errorf("expected 'unknown' for zero PC, got: %s", src)
	}
}

func TestNewJSONMode(t *testing.T) {
	logger := New("relay", Config{Level: slog.LevelInfo, Pretty: false})
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}
