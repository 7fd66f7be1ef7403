package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: level})
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", level, err)
			}
			defer logger.Sync()

			expected, _ := zapcore.ParseLevel(level)
			if !logger.Core().Enabled(expected) {
				t.Errorf("level %q should be enabled", level)
			}
			if expected > zapcore.DebugLevel && logger.Core().Enabled(expected-1) {
				t.Errorf("level below %q should be disabled", level)
			}
		})
	}
}

func TestNewLogger_invalidLevel_defaultsToInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "bogus"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("should default to info level")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should not be enabled with an invalid level")
	}
}

func TestNewLogger_consoleFormat(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "console", LogOutput: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SessionID:     "sess-1",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	})

	RequestLogger(ctx, logger).Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	checks := map[string]string{
		"session_id":     "sess-1",
		"user_id":        model.DefaultUserID,
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "test message",
	}
	for key, want := range checks {
		if got, _ := entry[key].(string); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_noTraceID(t *testing.T) {
	var buf bytes.Buffer
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{SessionID: "s"})

	RequestLogger(ctx, newTestLogger(&buf)).Info("no trace")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if _, exists := entry["trace_id"]; exists {
		t.Error("trace_id should not be present when empty")
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	RequestLogger(context.Background(), newTestLogger(&buf)).Info("no context")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if _, exists := entry["session_id"]; exists {
		t.Error("session_id should not be present without RequestContext")
	}
}

func TestRedactArgs(t *testing.T) {
	args := map[string]any{
		"plugin_id":     "p-1",
		"reason":        "unsafe payload",
		"Authorization": "Bearer x",
		"target": map[string]any{
			"host":         "10.0.0.1",
			"ssh_password": "hunter2",
		},
	}

	got := RedactArgs(args, "reason")

	if got["plugin_id"] != "p-1" {
		t.Errorf("plugin_id = %v", got["plugin_id"])
	}
	if got["reason"] != "[REDACTED]" {
		t.Errorf("reason = %v, want redacted by extra name", got["reason"])
	}
	if got["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization = %v, want redacted case-insensitively", got["Authorization"])
	}
	nested := got["target"].(map[string]any)
	if nested["host"] != "10.0.0.1" || nested["ssh_password"] != "[REDACTED]" {
		t.Errorf("target = %v", nested)
	}
	if args["reason"] != "unsafe payload" {
		t.Error("RedactArgs mutated its input")
	}
}

func TestRedactArgs_nil(t *testing.T) {
	if got := RedactArgs(nil); got != nil {
		t.Errorf("RedactArgs(nil) = %v, want nil", got)
	}
}
