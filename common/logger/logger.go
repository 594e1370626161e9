package logger

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	conf "github.com/abcfe/abcfe-wallet/config"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
	stag   string
)

func InitLogger(cfg *conf.Config) error {
	now := time.Now()
	lPath := fmt.Sprintf("%s_%s.log", cfg.LogInfo.Path, now.Format("2006-01-02"))

	rotator, err := rotatelogs.New(
		lPath,
		rotatelogs.WithMaxAge(time.Duration(cfg.LogInfo.MaxAgeHour)*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(cfg.LogInfo.RotateHour)*time.Hour))
	if err != nil {
		return err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "date",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	w := zapcore.AddSync(rotator)
	var core zapcore.Core
	if cfg.Common.Level == "alpha" {
		// stdout carries protocol frames in stdio mode, so the console tee goes to stderr
		cw := zapcore.AddSync(os.Stderr)
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.DebugLevel),
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), cw, zap.DebugLevel),
		)
	} else {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.InfoLevel)
	}

	mu.Lock()
	logger = zap.New(core).Named(cfg.Common.ServiceName)
	stag = cfg.Common.Level
	mu.Unlock()

	Info("logging init file start")
	return nil
}

func root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a structured child logger for call sites that carry fields.
func With(fields ...zap.Field) *zap.Logger {
	return root().With(fields...)
}

func join(ctx []interface{}) string {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}
	return b.String()
}

func Debug(ctx ...interface{}) {
	root().Debug("debug", zap.String("Debug", join(ctx)))
}

// Info is a convenient alias for Root().Info
func Info(ctx ...interface{}) {
	root().Info("info", zap.String("Info", join(ctx)))
}

// Warn is a convenient alias for Root().Warn
func Warn(ctx ...interface{}) {
	root().Warn("warn", zap.String("Warn", join(ctx)))
}

// Error is a convenient alias for Root().Error
func Error(ctx ...interface{}) {
	root().Error("error", zap.String("Err", join(ctx)))
}

func Crit(ctx ...interface{}) {
	root().Fatal("panic", zap.String("Crit", join(ctx)))
}

// IsDebug reports whether the logger runs at the "alpha" stage.
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return stag == "alpha"
}

// Sync flushes buffered entries; called on shutdown.
func Sync() {
	_ = root().Sync()
}

// Error handling
func HandleErr(err error) {
	if err != nil {
		Error(err)
	}
}
