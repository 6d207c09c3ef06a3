package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogFile = "flasharb.log"

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger initializes the global logger instance. Subsequent calls return
// the logger built by the first call.
func InitLogger(debug bool) *zap.Logger {
	once.Do(func() {
		logger, err := NewLogger(debug, defaultLogFile)
		if err != nil {
			panic(err)
		}
		log = logger
	})

	return log
}

// NewLogger builds a production zap logger writing to stdout and, when
// logFile is set, to that file as well
func NewLogger(debug bool, logFile string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// ReplaceLogger installs l as the global logger. A later InitLogger call
// returns l instead of building a new logger.
func ReplaceLogger(l *zap.Logger) {
	once.Do(func() {})
	log = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
