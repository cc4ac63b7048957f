package cmd

import (
	"io"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
)

// setupLogging installs the default slog handler. The returned level can be
// changed at runtime on config reload.
func setupLogging(w io.Writer, cfg config.LogConfig) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return level
}

func logLevel(name string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
