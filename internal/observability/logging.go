package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/model"
)

type loggerKey struct{}

// NewLogger creates a zap.Logger from observability settings. The CLI writes
// logs to stderr so that command output on stdout stays machine readable.
//
// Log level usage conventions:
//   - error: backend unreachable, store failures, unhandled panics
//   - warn:  command failures reported by the backend, stream timeouts
//   - info:  server lifecycle, page refreshes, dialog saves
//   - debug: gateway arguments (redacted), retries, event deliveries
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoding := cfg.LogFormat
	if encoding == "" {
		encoding = "json"
	}
	output := cfg.LogOutput
	if output == "" {
		output = "stderr"
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with the session fields of the
// RequestContext carried by ctx.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("session_id", rctx.SessionID),
		zap.String("user_id", rctx.User()),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

// sensitiveArgs are argument names never written to logs. Plugin code and
// review notes may carry target credentials captured during testing.
var sensitiveArgs = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"authorization",
	"cookie",
	"private_key",
	"credentials",
}

// RedactArgs returns a copy of args with sensitive values replaced by
// "[REDACTED]". Keys match case-insensitively, and extra names may be
// supplied. Nested maps are walked; the input is never modified.
func RedactArgs(args map[string]any, extra ...string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch {
		case isSensitive(k, extra):
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = RedactArgs(nested, extra...)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func isSensitive(key string, extra []string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveArgs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, s := range extra {
		if strings.EqualFold(key, s) {
			return true
		}
	}
	return false
}
