package utilities

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation strategies.
const (
	RotateDaily = "daily"
	RotateSize  = "size"
)

type Config struct {
	Level  string `yaml:"level"`
	Dev    bool   `yaml:"dev"`
	File   string `yaml:"file"`
	Rotate string `yaml:"rotate"`
	// MaxAgeDays bounds how long rotated files are kept.
	MaxAgeDays int `yaml:"max_age_days"`
	// MaxSizeMB only applies to size based rotation.
	MaxSizeMB int `yaml:"max_size_mb"`
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes and returns a *zap.Logger
func Init(cfg Config) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev && cfg.File == "" {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder = zapcore.NewJSONEncoder(encoderCfg)
	if cfg.Dev {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl)}
	if cfg.File != "" {
		w, err := fileWriter(cfg)
		if err != nil {
			return nil, err
		}
		// files always get JSON so they stay machine readable
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), lvl))
	}
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func fileWriter(cfg Config) (io.Writer, error) {
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	switch cfg.Rotate {
	case RotateSize:
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 50
		}
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    size,
			MaxAge:     maxAge,
			MaxBackups: 10,
			Compress:   true,
		}, nil
	case "", RotateDaily:
		rl, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("rotatelogs: %w", err)
		}
		return rl, nil
	default:
		return nil, fmt.Errorf("unknown log rotation %q", cfg.Rotate)
	}
}
