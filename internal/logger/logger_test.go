package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tc := range testCases {
		result := ParseLevel(tc.input)
		if result != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tc.input, result, tc.expected)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	jsonLogger := NewFromConfig("info", "json")
	textLogger := NewFromConfig("debug", "text")
	require.NotNil(t, jsonLogger)
	require.NotNil(t, textLogger)

	jsonLogger.Info("test message", String("key1", "value1"), Int("key2", 42))
	textLogger.Debug("debug message", String("component", "test"))
}

func TestWithFieldsCarriesContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.WithRequest("req-123").
		WithFields(String("component", "recorder")).
		Warn("persist failed", Error(errors.New("boom")), Duration("elapsed", time.Second))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "persist failed", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	ctx := entry.ContextMap()
	assert.Equal(t, "req-123", ctx["request_id"])
	assert.Equal(t, "recorder", ctx["component"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := FromZap(zap.New(core))

	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept")
	log.Error("kept")

	assert.Equal(t, 2, logs.Len())
}

func TestNopAndNilZap(t *testing.T) {
	NewNop().Error("nothing", Bool("ok", true))
	FromZap(nil).Info("nothing", Int64("n", 1), Float64("f", 0.5), Strings("s", []string{"a"}))
}

func TestGlobalLogger(t *testing.T) {
	originalDefault := defaultLogger
	defer func() { SetDefault(originalDefault) }()

	core, logs := observer.New(zapcore.InfoLevel)
	SetDefault(FromZap(zap.New(core)))

	Info("global message")
	ErrorLog("global error")

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, GetDefault(), defaultLogger)
}
