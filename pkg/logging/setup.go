package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Options configures Setup.
type Options struct {
	Level   string // "debug", "info", "warn", "error"
	LogFile string // optional path; empty means stderr via the handler's writer
}

// Setup installs the default slog logger for the process. When LogFile is
// set, logs are written to a rotating file instead of the handler's default
// writer; the caller is responsible for closing the returned RotatingFile
// (nil if no file was configured).
func Setup(opts Options, stderr io.Writer) (*RotatingFile, error) {
	level := parseLevel(opts.Level)

	if opts.LogFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
		return nil, nil
	}

	rf, err := NewRotatingFile(opts.LogFile)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
		return nil, err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(rf, &slog.HandlerOptions{Level: level})))
	return rf, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
