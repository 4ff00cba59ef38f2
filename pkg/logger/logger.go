package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

var (
	mu      sync.RWMutex
	logger  Logger
	sLogger *slog.Logger
)

// PrintfLogger is the shape robfig/cron's PrintfLogger expects.
type PrintfLogger interface {
	Printf(string, ...any)
}

type Logger interface {
	PrintfLogger
	Debug(msg string, fields ...any)
	Debugf(msg string, args ...any)
	Info(msg string, fields ...any)
	Infof(msg string, args ...any)
	Warn(msg string, fields ...any)
	Warnf(msg string, args ...any)
	Error(msg string, fields ...any)
	Errorf(msg string, args ...any)
	Fatal(msg string, fields ...any)
	Fatalf(msg string, args ...any)
}

type ZapLogger struct {
	Logger       *zap.Logger
	loggerConfig zap.Config
	level        zapcore.Level
}

type optionFunc func(*ZapLogger)

// InitLogger installs the process-wide logger once. Later calls are no-ops.
func InitLogger(opts ...optionFunc) error {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		return nil
	}
	zapLogger, err := NewZapLogger(opts...)
	if err != nil {
		return err
	}
	logger = zapLogger
	sLogger = newSLogger(zapLogger.Logger, zapLogger.level)
	return nil
}

// NewZapLogger builds a production zap logger without touching the global.
func NewZapLogger(opts ...optionFunc) (*ZapLogger, error) {
	loggerZap := &ZapLogger{
		loggerConfig: zap.NewProductionConfig(),
		level:        zapcore.InfoLevel,
	}
	for _, opt := range opts {
		opt(loggerZap)
	}
	var err error
	loggerZap.Logger, err = loggerZap.loggerConfig.Build()
	if err != nil {
		return nil, err
	}
	return loggerZap, nil
}

func WithLevel(level zapcore.Level) optionFunc {
	return func(zl *ZapLogger) {
		zl.level = level
		zl.loggerConfig.Level = zap.NewAtomicLevelAt(level)
	}
}

func WithEncodeTime(timeKey string, timeEncoder zapcore.TimeEncoder) optionFunc {
	return func(zl *ZapLogger) {
		zl.loggerConfig.EncoderConfig.TimeKey = timeKey
		zl.loggerConfig.EncoderConfig.EncodeTime = timeEncoder
	}
}

// WithConsoleEncoding switches to the human readable encoder used outside production.
func WithConsoleEncoding() optionFunc {
	return func(zl *ZapLogger) {
		zl.loggerConfig.Encoding = "console"
		zl.loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
}

type levelAdapter struct {
	zapLevel zapcore.Level
}

func (l levelAdapter) Level() slog.Level {
	switch l.zapLevel {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newSLogger(zapLogger *zap.Logger, level zapcore.Level) *slog.Logger {
	return slog.New(slogzap.Option{
		Logger: zapLogger,
		Level:  levelAdapter{zapLevel: level},
	}.NewZapHandler())
}

// NewZapLoggerForTest routes output through t.Log. It is never installed
// globally since it must not outlive the test.
func NewZapLoggerForTest(t *testing.T) Logger {
	return &ZapLogger{Logger: zaptest.NewLogger(t), level: zapcore.DebugLevel}
}

// NewLogger builds a logger of the given type without installing it.
func NewLogger(loggerType string, loggerLevel string) (Logger, error) {
	switch loggerType {
	case "zap":
		zapLevel, err := zapcore.ParseLevel(loggerLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to parse logger level: %w", err)
		}
		return NewZapLogger(WithLevel(zapLevel), WithEncodeTime("timestamp", zapcore.ISO8601TimeEncoder))
	default:
		return nil, fmt.Errorf("unsupported logger type: %s", loggerType)
	}
}

func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return nopLogger
	}
	return logger
}

func GetSLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if sLogger == nil {
		return slog.New(slogzap.Option{Logger: zap.NewNop()}.NewZapHandler())
	}
	return sLogger
}

// Sync flushes buffered entries; call it before exit.
func Sync() {
	if zl, ok := GetLogger().(*ZapLogger); ok {
		_ = zl.Logger.Sync()
	}
}

var nopLogger = &ZapLogger{Logger: zap.NewNop()}

func DebugContext(ctx context.Context, msg string, args ...any) {
	GetSLogger().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	GetSLogger().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	GetSLogger().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	GetSLogger().ErrorContext(ctx, msg, args...)
}

func Debug(msg string, fields ...any) { GetLogger().Debug(msg, fields...) }
func Debugf(msg string, args ...any) { GetLogger().Debugf(msg, args...) }
func Info(msg string, fields ...any) { GetLogger().Info(msg, fields...) }
func Infof(msg string, args ...any) { GetLogger().Infof(msg, args...) }
func Warn(msg string, fields ...any) { GetLogger().Warn(msg, fields...) }
func Warnf(msg string, args ...any) { GetLogger().Warnf(msg, args...) }
func Error(msg string, fields ...any) { GetLogger().Error(msg, fields...) }
func Errorf(msg string, args ...any) { GetLogger().Errorf(msg, args...) }
func Fatal(msg string, fields ...any) { GetLogger().Fatal(msg, fields...) }
func Fatalf(msg string, args ...any) { GetLogger().Fatalf(msg, args...) }

func (l *ZapLogger) Debug(msg string, fields ...any) {
	l.Logger.Sugar().Debugw(msg, fields...)
}

func (l *ZapLogger) Debugf(msg string, args ...any) {
	l.Logger.Sugar().Debugf(msg, args...)
}

func (l *ZapLogger) Info(msg string, fields ...any) {
	l.Logger.Sugar().Infow(msg, fields...)
}

func (l *ZapLogger) Infof(msg string, args ...any) {
	l.Logger.Sugar().Infof(msg, args...)
}

func (l *ZapLogger) Warn(msg string, fields ...any) {
	l.Logger.Sugar().Warnw(msg, fields...)
}

func (l *ZapLogger) Warnf(msg string, args ...any) {
	l.Logger.Sugar().Warnf(msg, args...)
}

func (l *ZapLogger) Error(msg string, fields ...any) {
	l.Logger.Sugar().Errorw(msg, fields...)
}

func (l *ZapLogger) Errorf(msg string, args ...any) {
	l.Logger.Sugar().Errorf(msg, args...)
}

func (l *ZapLogger) Fatal(msg string, fields ...any) {
	l.Logger.Sugar().Fatalw(msg, fields...)
}

func (l *ZapLogger) Fatalf(msg string, args ...any) {
	l.Logger.Sugar().Fatalf(msg, args...)
}

func (l *ZapLogger) Printf(msg string, args ...any) {
	l.Logger.Sugar().Infof(msg, args...)
}
