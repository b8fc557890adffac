package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("with default output", func(t *testing.T) {
		logger := NewLogger(Config{Level: InfoLevel})
		if logger == nil {
			t.Fatal("NewLogger returned nil")
		}
	})

	t.Run("with custom output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewLogger(Config{Level: InfoLevel, Output: buf})
		if logger.writer != buf {
			t.Error("Logger should use provided output writer")
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		configLvl LogLevel
		logLvl    LogLevel
		shouldLog bool
	}{
		{"debug logs debug", DebugLevel, DebugLevel, true},
		{"debug logs error", DebugLevel, ErrorLevel, true},
		{"info skips debug", InfoLevel, DebugLevel, false},
		{"info logs info", InfoLevel, InfoLevel, true},
		{"warn skips info", WarnLevel, InfoLevel, false},
		{"warn logs error", WarnLevel, ErrorLevel, true},
		{"error skips warn", ErrorLevel, WarnLevel, false},
		{"error logs error", ErrorLevel, ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewLogger(Config{Level: tt.configLvl, Output: buf})

			logger.log(tt.logLvl, "test message", nil)

			if tt.shouldLog && buf.Len() == 0 {
				t.Error("Expected log output, got none")
			}
			if !tt.shouldLog && buf.Len() > 0 {
				t.Errorf("Expected no output, got %q", buf.String())
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Format: JSONFormat, Level: DebugLevel, Output: buf})

	logger.Info("queue claimed", map[string]interface{}{
		"jobId": "u1:5",
		"depth": 3,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["message"] != "queue claimed" {
		t.Errorf("message = %v, want 'queue claimed'", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("fields missing from JSON entry")
	}
	if fields["jobId"] != "u1:5" {
		t.Errorf("fields.jobId = %v, want u1:5", fields["jobId"])
	}
}

func TestHumanFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Format: HumanFormat, Level: DebugLevel, Output: buf})

	logger.Warn("worker timeout", map[string]interface{}{"jobId": "u2:9"})

	out := buf.String()
	if !strings.Contains(out, "[warn]") {
		t.Errorf("Output missing level marker: %q", out)
	}
	if !strings.Contains(out, "worker timeout") {
		t.Errorf("Output missing message: %q", out)
	}
	if !strings.Contains(out, "jobId=u2:9") {
		t.Errorf("Output missing fields: %q", out)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reposcan.log")
	sink := FileSink(path, 1, 1)
	defer func() { _ = sink.Close() }()

	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: sink})
	logger.Info("daemon started", nil)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
