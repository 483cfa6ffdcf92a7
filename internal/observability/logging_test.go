package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_Defaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	logger.Info(context.Background(), "hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("default format is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "text"})

	logger.Info(context.Background(), "loaded config",
		"detail", "api_key=abcdef0123456789abcdef no problem")

	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker in output: %s", out)
	}
}

func TestLogger_CorrelationFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddSessionID(context.Background(), "sess-9")
	ctx = AddTurn(ctx, 3)
	ctx = AddToolCallID(ctx, "c7")
	logger.Info(ctx, "tool finished")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["session_id"] != "sess-9" {
		t.Errorf("session_id = %v", record["session_id"])
	}
	if record["turn"] != float64(3) {
		t.Errorf("turn = %v", record["turn"])
	}
	if record["tool_call_id"] != "c7" {
		t.Errorf("tool_call_id = %v", record["tool_call_id"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Level: "warn"})

	logger.Info(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at warn level: %s", buf.String())
	}
	logger.Warn(context.Background(), "loud")
	if buf.Len() == 0 {
		t.Error("warn record suppressed at warn level")
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.input); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
