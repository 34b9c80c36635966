// Package logging configures zerolog for pinup and carries request-scoped
// loggers through context.Context.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bnema/pinup/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the root logger. Console output goes to w, human readable
// unless cfg.Format is "json". When file logging is enabled every event is
// also written as JSON to a rotating file. The returned closer releases it.
func Setup(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var console io.Writer = w
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	if !cfg.File.Enabled {
		logger := zerolog.New(console).Level(level).With().Timestamp().Logger()
		return logger, nopCloser{}, nil
	}

	// Owner-only permissions (0700).
	if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0700); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSize,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAge,
		Compress:   cfg.File.Compress,
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(console, fileWriter)).
		Level(level).
		With().
		Timestamp().
		Logger()

	logger.Debug().
		Str("log_file", cfg.File.Path).
		Str("level", level.String()).
		Msg("file logging initialized")

	return logger, fileWriter, nil
}
