package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config tunes the daemon logger.
type Config struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string

	// FilePath overrides the default log location. Empty uses
	// ~/.mnemosyne/logs/mnemd.log.
	FilePath string

	// MaxSizeMB is the rotation threshold per file (default 10).
	MaxSizeMB int

	// MaxFiles is how many log files to keep, the live file included
	// (default 5), so MaxFiles-1 rotated files survive.
	MaxFiles int

	// Stderr additionally tees log lines to stderr, for foreground runs.
	Stderr bool
}

// Setup opens the daemon's structured logger: JSON lines into a
// size-rotated file, optionally teed to stderr. The returned cleanup
// flushes and closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultLogPath()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	writer, err := newRotatingWriter(cfg.FilePath, int64(cfg.MaxSizeMB)*1024*1024, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.Stderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: Level(cfg.Level)})
	logger := slog.New(handler).With(slog.String("service", "mnemd"))

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// ForComponent labels a child logger with the subsystem it speaks for, so
// one daemon log file separates watcher, pipeline, and RPC lines.
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Level parses a level name, defaulting to info for anything unknown.
func Level(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
