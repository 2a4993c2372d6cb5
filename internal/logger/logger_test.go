package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"WARNING", LevelWarning},
		{"warn", LevelWarning},
		{"ERROR", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %d, expected %d", tt.input, got, tt.expected)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "WARNING")

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warning("warning %d", 3)
	l.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("lower levels should be filtered: %q", out)
	}
	if !strings.Contains(out, "warning 3") || !strings.Contains(out, "error 4") {
		t.Errorf("expected warning and error entries: %q", out)
	}
}

func TestLogger_WritesFiles(t *testing.T) {
	dir := t.TempDir()

	l, err := New(dir, "INFO")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("captured %s", "frame")
	l.Error("upload failed")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	info, err := os.ReadFile(filepath.Join(dir, "info.log"))
	if err != nil {
		t.Fatalf("read info.log: %v", err)
	}
	if !strings.Contains(string(info), "captured frame") {
		t.Errorf("info.log missing entry: %q", info)
	}

	errLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("read error.log: %v", err)
	}
	if !strings.Contains(string(errLog), "upload failed") {
		t.Errorf("error.log missing entry: %q", errLog)
	}
}
