// Package logutil provides the package-level structured logger shared by
// every component, built on zap the way the teacher's pkg/logutil does.
package logutil

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Config controls the rotated file sink. A zero Config logs to stderr only.
type Config struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      zapcore.Level
}

// Init (re)configures the package logger. Safe to call once at process
// start; tests may call it repeatedly with a development config.
func Init(cfg Config) {
	var cores []zapcore.Core
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	encoder := zapcore.NewJSONEncoder(enc)

	stderr := zapcore.Lock(zapcore.AddSync(os.Stderr))
	cores = append(cores, zapcore.NewCore(encoder, stderr, cfg.Level))

	if cfg.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), cfg.Level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	mu.Lock()
	log = l
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Info(msg string, fields ...zap.Field)  { get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }

// ErrorField is the conventional field name every component uses to attach
// an error to a log line.
func ErrorField(err error) zap.Field { return zap.Error(err) }
