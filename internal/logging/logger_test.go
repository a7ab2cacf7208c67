package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.input); got != tc.expected {
			t.Fatalf("parseLevel(%q) = %s, expected %s", tc.input, got, tc.expected)
		}
	}
}

func TestNamedToleratesNilLogger(t *testing.T) {
	logger := Named(nil, "queue")
	if logger == nil {
		t.Fatalf("expected non-nil logger")
	}
	logger.Info("must not panic")
}
