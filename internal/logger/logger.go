// Package logger builds the zap loggers used by every command.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and sinks of a logger.
type Config struct {
	Level  string
	Pretty bool
	// OutputPaths are zap sink URLs or file paths; empty means stderr.
	OutputPaths []string
}

// New builds a logger. Pretty selects the colored development encoder,
// otherwise JSON lines are written.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Pretty {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "time"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	base, err := zc.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return base, nil
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logger: unknown level %q", s)
}

// FileSafeTimestamp formats t for use in a file name, e.g.
// 2026-03-01_12-00-00-123456.
func FileSafeTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.Format("2006-01-02_15-04-05.000000"), ".", "-")
}

// RunLogPath is the log file of one command run: <dir>/<command>_<ts>.log.
func RunLogPath(dir, command string, t time.Time) string {
	return filepath.Join(dir, command+"_"+FileSafeTimestamp(t)+".log")
}

// NewRun builds a logger for one command run that writes to stderr and to
// a fresh timestamped file under dir. It returns the file path.
func NewRun(cfg Config, dir, command string) (*zap.Logger, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log dir: %w", err)
	}
	path := RunLogPath(dir, command, time.Now())

	cfg.OutputPaths = append([]string{"stderr", path}, cfg.OutputPaths...)
	log, err := New(cfg)
	if err != nil {
		return nil, "", err
	}
	return log.With(zap.String("command", command)), path, nil
}
