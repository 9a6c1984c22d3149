package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

// captures the package logger at the given level for the duration of a test
func capture(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	originalLevel := defaultLogger.level
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(originalLevel)
	})
	return &buf
}

func lastEntry(output string) (map[string]interface{}, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || lines[len(lines)-1] == "" {
		return nil, fmt.Errorf("no log output")
	}

	var entry map[string]interface{}
	err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry)
	return entry, err
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name      string
		logFn     func(string, ...map[string]interface{})
		wantLevel string
	}{
		{"debug", Debug, "debug"},
		{"info", Info, "info"},
		{"warn", Warn, "warning"},
		{"error", Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, DEBUG)

			tt.logFn("test message", map[string]interface{}{
				"field1": "value1",
				"field2": 42,
			})

			entry, err := lastEntry(buf.String())
			if err != nil {
				t.Fatalf("Expected valid JSON log entry, got error: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("Expected level %s, got %v", tt.wantLevel, entry["level"])
			}
			if entry["message"] != "test message" {
				t.Errorf("Expected message 'test message', got %v", entry["message"])
			}
			if entry["field1"] != "value1" {
				t.Errorf("Expected field1=value1, got %v", entry["field1"])
			}
			if _, ok := entry["timestamp"]; !ok {
				t.Error("Expected timestamp field")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, WARN)

	Debug("hidden debug")
	Info("hidden info")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	Warn("visible warn")
	if !strings.Contains(buf.String(), "visible warn") {
		t.Errorf("Expected warn output, got %q", buf.String())
	}
}

func TestLogWithoutFields(t *testing.T) {
	buf := capture(t, INFO)

	Info("message without fields")

	if _, err := lastEntry(buf.String()); err != nil {
		t.Errorf("Expected valid JSON log entry, got error: %v", err)
	}
}

func TestLogFieldTypes(t *testing.T) {
	buf := capture(t, INFO)

	Info("testing different field types", map[string]interface{}{
		"string_field": "test",
		"int_field":    42,
		"float_field":  3.14,
		"bool_field":   true,
		"nil_field":    nil,
	})

	if _, err := lastEntry(buf.String()); err != nil {
		t.Errorf("Expected valid JSON log entry with mixed field types, got error: %v", err)
	}
}

func TestSensitiveFieldsRedacted(t *testing.T) {
	buf := capture(t, INFO)

	Info("token issued", map[string]interface{}{
		"license_token": "KPRO1.eyJ2ZXJzaW9uIjoxfQ.c2lnbmF0dXJl",
		"secret":        "short",
		"signature":     12345,
		"customer_id":   "cus_123",
	})

	entry, err := lastEntry(buf.String())
	if err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}

	if entry["license_token"] != "KPR...XJl" {
		t.Errorf("Expected truncated token, got %v", entry["license_token"])
	}
	if entry["secret"] != "[REDACTED]" {
		t.Errorf("Expected short secret redacted, got %v", entry["secret"])
	}
	if entry["signature"] != "[REDACTED]" {
		t.Errorf("Expected non-string signature redacted, got %v", entry["signature"])
	}
	if entry["customer_id"] != "cus_123" {
		t.Errorf("Expected customer_id untouched, got %v", entry["customer_id"])
	}
	if strings.Contains(buf.String(), "c2lnbmF0dXJl") {
		t.Error("Full token leaked into log output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warn":    WARN,
		"Warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerIndependentOfDefault(t *testing.T) {
	var buf bytes.Buffer
	l := New(ERROR)
	l.SetOutput(&buf)

	l.Info("dropped")
	l.Error("kept", map[string]interface{}{"code": 500})

	entry, err := lastEntry(buf.String())
	if err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}
	if entry["message"] != "kept" {
		t.Errorf("Expected only the error entry, got %v", entry["message"])
	}
	if strings.Contains(buf.String(), "dropped") {
		t.Error("Info entry should be filtered at ERROR level")
	}
}

func BenchmarkInfo(b *testing.B) {
	var buf bytes.Buffer
	l := New(INFO)
	l.SetOutput(&buf)

	fields := map[string]interface{}{
		"customer_id": "12345",
		"action":      "benchmark",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("benchmark info message", fields)
	}
}
