package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/solostack/kernel/internal/cliconfig"
)

func main() {
	var level slog.Level
	switch strings.ToLower(cliconfig.GetLogLevel()) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cliconfig.GetLogFormat()) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	Execute()
}
