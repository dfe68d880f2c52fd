package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn, "test")

	logger.Debug("hidden %d", 1)
	logger.Info("also hidden")
	logger.Warn("visible warning")
	logger.Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info lines to be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "visible warning") || !strings.Contains(out, "visible error") {
		t.Errorf("expected warn/error lines, got: %s", out)
	}
	if !strings.Contains(out, "[test]") {
		t.Errorf("expected component tag in output, got: %s", out)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) must return a usable logger")
	}
	var typed *fileLogger
	if OrNop(typed) == nil {
		t.Fatal("OrNop on nil pointer must return a usable logger")
	}
	// Must not panic.
	OrNop(nil).Info("ok")
}

func TestMultiFanOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := Multi(
		NewWriterLogger(&a, LevelDebug, "a"),
		nil,
		NewWriterLogger(&b, LevelDebug, "b"),
	)

	logger.Info("fan out %s", "works")

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !strings.Contains(buf.String(), "fan out works") {
			t.Errorf("logger %s missing message: %q", name, buf.String())
		}
	}
}
