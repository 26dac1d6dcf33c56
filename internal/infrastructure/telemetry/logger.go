package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the capability interface the pipeline core depends on. Core
// packages (builder, backfill, reconcile) take
// this instead of a concrete *zap.Logger so they stay free of the
// telemetry package's OTLP/zap wiring; only cmd/ constructs a real one.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	Fatal(ctx context.Context, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

// tracedLogger wraps *zap.Logger and stamps the active span's trace/span
// IDs onto every record.
type tracedLogger struct {
	l *zap.Logger
}

// NewLogger builds a JSON structured logger at the given level ("debug",
// "info", "warn", "error"); unrecognized levels fall back to info.
func NewLogger(level string) (Logger, error) {
	var zlvl zapcore.Level
	if err := zlvl.UnmarshalText([]byte(level)); err != nil {
		zlvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlvl)
	cfg.EncoderConfig.TimeKey = "ts"

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &tracedLogger{l: l}, nil
}

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func (t *tracedLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	t.l.Debug(msg, withTrace(ctx, fields)...)
}

func (t *tracedLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	t.l.Info(msg, withTrace(ctx, fields)...)
}

func (t *tracedLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	t.l.Warn(msg, withTrace(ctx, fields)...)
}

func (t *tracedLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	t.l.Error(msg, withTrace(ctx, fields)...)
}

func (t *tracedLogger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	t.l.Fatal(msg, withTrace(ctx, fields)...)
}

func (t *tracedLogger) With(fields ...zap.Field) Logger {
	return &tracedLogger{l: t.l.With(fields...)}
}

// NopLogger discards everything; used by tests that don't assert on logs.
func NopLogger() Logger {
	return &tracedLogger{l: zap.NewNop()}
}
