// Package observability configures structured logging for the CLI.
//
// Logging writes to the console always and, when a run log path is given,
// to a size-rotated file as well.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process-wide logger. It is a no-op until Init runs, so
// packages may log unconditionally.
var CLILogger = zap.NewNop()

// Init builds the logger. Verbose switches the level to debug. logFile,
// when non-empty, adds a rotating file sink alongside the console.
func Init(verbose bool, logFile string) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	consoleEnc := zapcore.NewConsoleEncoder(consoleEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	if logFile != "" {
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			Compress:   true,
		})
		// The file captures debug regardless of console verbosity.
		cores = append(cores, zapcore.NewCore(fileEnc, fileSink, zapcore.DebugLevel))
	}

	CLILogger = zap.New(zapcore.NewTee(cores...))
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
