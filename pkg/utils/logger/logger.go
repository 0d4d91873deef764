package logger

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"classjudge/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[Logger]

// Logger wraps zap logger with context support
type Logger struct {
	zap *zap.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	OutputPath string `yaml:"outputPath"` // file path or "stdout"
	ErrorPath  string `yaml:"errorPath"`  // error log file path or "stderr"
}

// Init replaces the global logger used by the package-level functions.
func Init(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// NewLogger builds a logger writing to OutputPath, with warn and above
// also copied to ErrorPath when that names a different sink.
func NewLogger(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	enc := newEncoder(cfg.Format)

	out, err := openSink(cfg.OutputPath, os.Stdout)
	if err != nil {
		return nil, err
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, out, level)}
	if cfg.ErrorPath != "" && cfg.ErrorPath != cfg.OutputPath {
		errOut, err := openSink(cfg.ErrorPath, os.Stderr)
		if err != nil {
			return nil, err
		}
		warnUp := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.WarnLevel && level.Enabled(l)
		})
		cores = append(cores, zapcore.NewCore(enc.Clone(), errOut, warnUp))
	}

	z := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{zap: z}, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "func",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func openSink(path string, fallback *os.File) (zapcore.WriteSyncer, error) {
	switch path {
	case "":
		return zapcore.Lock(fallback), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// contextFields maps context keys to the log field names they are emitted under.
var contextFields = []struct {
	key   contextkey.Key
	field string
}{
	{contextkey.TraceID, "trace_id"},
	{contextkey.RequestID, "request_id"},
	{contextkey.SubmissionID, "submission_id"},
}

// WithContext returns a zap logger carrying the ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.zap
	}
	var fields []zap.Field
	for _, cf := range contextFields {
		if v, ok := ctx.Value(cf.key).(string); ok && v != "" {
			fields = append(fields, zap.String(cf.field, v))
		}
	}
	if len(fields) == 0 {
		return l.zap
	}
	return l.zap.With(fields...)
}

// emit is a no-op until Init has run.
func emit(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	l := global.Load()
	if l == nil {
		return
	}
	if ce := l.WithContext(ctx).Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.DebugLevel, msg, fields)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.InfoLevel, msg, fields)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.WarnLevel, msg, fields)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	emit(ctx, zapcore.ErrorLevel, msg, fields)
}

// Sync flushes the global logger
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
