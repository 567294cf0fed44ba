package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"attachgraph/internal/config"
)

const logLevelEnvKey = "ATTACHGRAPH_LOG_LEVEL"

func configureLoggerForCLI(flagLevel, configLevel, logFile string) (string, func() error, error) {
	envLevel := os.Getenv(logLevelEnvKey)
	rawLevel, source := selectedLogLevel(flagLevel, envLevel, configLevel)
	level, err := parseLogLevel(rawLevel)
	warning := ""
	if err != nil {
		if source == "flag" {
			return "", nil, fmt.Errorf("invalid --log-level %q", flagLevel)
		}
		level, _ = parseLogLevel("")
		switch source {
		case "env":
			warning = fmt.Sprintf("warning: invalid %s=%q; defaulting to %s", logLevelEnvKey, envLevel, config.DefaultLogLevel)
		case "config":
			warning = fmt.Sprintf("warning: invalid log_level=%q; defaulting to %s", configLevel, config.DefaultLogLevel)
		}
	}

	var fileOut io.WriteCloser
	if path := strings.TrimSpace(logFile); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return "", nil, fmt.Errorf("open log file: %w", err)
		}
		fileOut = f
	}

	slog.SetDefault(newLogger(level, os.Stderr, fileOut))
	closer := func() error {
		if fileOut == nil {
			return nil
		}
		return fileOut.Close()
	}
	return warning, closer, nil
}

func selectedLogLevel(flagLevel, envLevel, configLevel string) (string, string) {
	if strings.TrimSpace(flagLevel) != "" {
		return flagLevel, "flag"
	}
	if strings.TrimSpace(envLevel) != "" {
		return envLevel, "env"
	}
	if strings.TrimSpace(configLevel) != "" {
		return configLevel, "config"
	}
	return "", "default"
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = config.DefaultLogLevel
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelWarn, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// newLogger writes text to console and, when file is set, JSON lines to file.
func newLogger(level slog.Level, console io.Writer, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	text := slog.NewTextHandler(console, opts)
	if file == nil {
		return slog.New(text)
	}
	return slog.New(slogmulti.Fanout(text, slog.NewJSONHandler(file, opts)))
}
