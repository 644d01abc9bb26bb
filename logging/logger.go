package logging

import (
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Level is a numeric zap level; -1 is debug, 0 info. When nil the
	// LOG_LEVEL environment variable is used.
	Level       *int
	OutputPaths []string
}

func levelFromEnv() zapcore.Level {
	level, err := strconv.Atoi(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return zapcore.InfoLevel
	}
	return zapcore.Level(level)
}

func initLogger(cfg Config) (*zap.Logger, error) {
	level := levelFromEnv()
	if cfg.Level != nil {
		level = zapcore.Level(*cfg.Level)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.CallerKey = "ln"
	zapCfg.EncoderConfig.FunctionKey = ""
	zapCfg.EncoderConfig.LevelKey = "severity"
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}

	return zapCfg.Build()
}

// NewLogger builds the process logger and installs it as the zap global.
// The returned func restores the previous global and flushes.
func NewLogger(cfg Config) (*zap.Logger, func()) {
	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("fail to init logger, error: %v", err)
	}

	undo := zap.ReplaceGlobals(logger)

	return logger, func() {
		undo()
		_ = logger.Sync()
	}
}
