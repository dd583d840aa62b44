package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(nopWriter{}) })
	return buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoggerWritesComponentAndContext(t *testing.T) {
	buf := captureOutput(t)

	logger := NewLogger("Pool")
	logger.InfoWithContext("account allocated", map[string]interface{}{
		"account": "ash",
		"action":  "get_map_objects",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}

	if entry["component"] != "Pool" {
		t.Errorf("Expected component Pool, got %v", entry["component"])
	}
	if entry["account"] != "ash" {
		t.Errorf("Expected account ash, got %v", entry["account"])
	}
	if entry["level"] != "info" {
		t.Errorf("Expected level info, got %v", entry["level"])
	}
	if entry["message"] != "account allocated" {
		t.Errorf("Expected message, got %v", entry["message"])
	}
}

func TestLoggerError(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("Store").Error("failed to persist", errors.New("disk full"))

	if !strings.Contains(buf.String(), `"error":"disk full"`) {
		t.Errorf("Expected error field, got %s", buf.String())
	}
}

func TestLoggerMinLevel(t *testing.T) {
	buf := captureOutput(t)

	logger := NewLogger("Delay").SetMinLevel(LogLevelWarn)
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected nothing below warn, got %s", buf.String())
	}

	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected warn line to be written")
	}
}

func TestFatalDoesNotExit(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("Worker").Fatal("worker stopped", errors.New("boom"))

	if !strings.Contains(buf.String(), `"level":"fatal"`) {
		t.Errorf("Expected fatal level, got %s", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	buf := captureOutput(t)

	cl := NewLogger("BanCheck").WithContext(map[string]interface{}{"account": "misty"})
	cl.Warn("temp banned")

	if !strings.Contains(buf.String(), `"account":"misty"`) {
		t.Errorf("Expected preset context, got %s", buf.String())
	}
}

func TestAddOutputTees(t *testing.T) {
	buf := captureOutput(t)
	extra := &bytes.Buffer{}

	NewLogger("Events").AddOutput(extra).Info("pool exhausted")

	if !strings.Contains(buf.String(), "pool exhausted") {
		t.Error("Expected root output to receive the line")
	}
	if !strings.Contains(extra.String(), "pool exhausted") {
		t.Error("Expected extra output to receive the line")
	}
}
