package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if level := ParseLevel(input); level != expected {
			t.Fatalf("ParseLevel(%q) = %v, expected %v", input, level, expected)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("warn", "console")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error to be enabled at warn level")
	}
}
