package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	reqLogger := logger.WithRequest(42, "write")
	reqLogger.Info("submitted")

	output := buf.String()
	if !strings.Contains(output, "req=42") {
		t.Errorf("Expected req=42 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=write") {
		t.Errorf("Expected op=write in output, got: %s", output)
	}

	buf.Reset()
	fdLogger := reqLogger.WithFD(7)
	fdLogger.Info("completed")

	output = buf.String()
	if !strings.Contains(output, "req=42") {
		t.Errorf("Expected req=42 in fd logger output, got: %s", output)
	}
	if !strings.Contains(output, "fd=7") {
		t.Errorf("Expected fd=7 in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	})

	logger.WithError(errors.New("bad descriptor")).Error("submit failed")

	output := buf.String()
	if !strings.Contains(output, "bad descriptor") {
		t.Errorf("Expected wrapped error in output, got: %s", output)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:   LevelError,
		Format:  "json",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	})

	logger.Debug("should be filtered")
	logger.Info("also filtered")
	logger.Error("kept")

	output := buf.String()
	if strings.Contains(output, "filtered") {
		t.Errorf("Expected debug/info to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "kept") {
		t.Errorf("Expected error message in output, got: %s", output)
	}
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:   LevelDebug,
		Format:  "json",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	})

	logger.Info("reaped", "count", 3)

	output := buf.String()
	if !strings.Contains(output, `"count":3`) {
		t.Errorf("Expected count field in output, got: %s", output)
	}
}

func TestDefaultLogger(t *testing.T) {
	old := Default()
	defer SetDefault(old)

	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{
		Level:   LevelDebug,
		Format:  "json",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}))

	Warn("global warn")
	if !strings.Contains(buf.String(), "global warn") {
		t.Errorf("Expected global warn in output, got: %s", buf.String())
	}
}
