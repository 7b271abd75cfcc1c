// Package logger is a thin zap wrapper that pulls request, actor and
// position fields out of the context.
package logger

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "stockledger/internal/core/context"
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

// Config selects level and encoding.
type Config struct {
	Level       string // debug, info, warn, error; unknown values fall back to info
	Development bool   // console encoding
	OutputPaths []string
	Service     string // added to every entry when set
}

// New builds a Logger. Production mode writes JSON with ISO8601 timestamps.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	if cfg.Service != "" {
		zc.InitialFields = map[string]any{"service": cfg.Service}
	}

	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

var global atomic.Pointer[Logger]

// Default returns the process logger. Before SetDefault it is a stdout JSON logger.
func Default() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := New(Config{OutputPaths: []string{"stdout"}})
	if err != nil {
		l = Nop()
	}
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

// With returns a child logger with extra fields.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithContext attaches request, actor and span identifiers found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func contextFields(ctx context.Context) []any {
	var fields []any
	if t := appctx.GetTrace(ctx); t != nil {
		fields = append(fields, "trace_id", t.TraceID, "request_id", t.RequestID)
	} else if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, "trace_id", sc.TraceID().String())
	}
	if a := appctx.GetActor(ctx); a != nil {
		fields = append(fields, "actor_id", a.ActorID)
		if a.Source != "" {
			fields = append(fields, "actor_source", a.Source)
		}
	}
	if v, ok := ctx.Value(fieldsKey{}).([]any); ok {
		fields = append(fields, v...)
	}
	return fields
}

type fieldsKey struct{}

// ContextWith stores extra fields in ctx; every later call through the
// package-level helpers includes them.
func ContextWith(ctx context.Context, keysAndValues ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(keysAndValues))
	merged = append(merged, prev...)
	merged = append(merged, keysAndValues...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FromContext returns the process logger enriched with ctx fields.
func FromContext(ctx context.Context) *Logger {
	return Default().WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}
