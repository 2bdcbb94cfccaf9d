package logger

import (
	"context"
	"os"
	"strings"

	"swingbot/internal/ports"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the bot logs. Output is one of
// "console", "file" or "both"; file output rotates via lumberjack.
type Config struct {
	Level      string
	Output     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ZapLogger implements ports.Logger on top of a zap sugared logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ ports.Logger = (*ZapLogger)(nil)

// New builds a logger from the config. Invalid levels fall back to Info;
// a config with no usable output still logs to the console.
func New(cfg Config) *ZapLogger {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if output == "file" || output == "both" {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		fileWriter := zapcore.AddSync(lumberjackLogger)
		cores = append(cores, zapcore.NewCore(consoleEncoder, fileWriter, logLevel))
	}

	if output == "console" || output == "both" || len(cores) == 0 {
		consoleWriter := zapcore.AddSync(os.Stdout)
		cores = append(cores, zapcore.NewCore(consoleEncoder, consoleWriter, logLevel))
	}

	core := zapcore.NewTee(cores...)
	return &ZapLogger{sugar: zap.New(core, zap.AddCallerSkip(1)).Sugar()}
}

// Sync flushes buffered log entries. Call before exit.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

func (l *ZapLogger) Debug(_ context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Debugw(msg, flatten(fields)...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Infow(msg, flatten(fields)...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Warnw(msg, flatten(fields)...)
}

func (l *ZapLogger) Error(_ context.Context, err error, msg string, fields ...map[string]interface{}) {
	kv := flatten(fields)
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	l.sugar.Errorw(msg, kv...)
}

// flatten turns the variadic field maps into zap's key/value pairs.
func flatten(fields []map[string]interface{}) []interface{} {
	var kv []interface{}
	for _, m := range fields {
		for k, v := range m {
			kv = append(kv, k, v)
		}
	}
	return kv
}
