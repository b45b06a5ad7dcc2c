// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for LSP endpoints.
//
// Built on the standard library slog package. The default destination is
// stderr, which is not a stylistic choice here: stdio-based language
// servers own stdout for protocol frames, and a single stray log line on
// stdout corrupts the frame stream. Optional file logging is available for
// deployments where stderr is not collected.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("starting server", "transport", "stdio")
//
// # File Logging
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    LogFile: "/var/log/notelsp.log",
//	    Service: "notelsp",
//	})
//	defer logger.Close()
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// =============================================================================
// LOG LEVELS
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable, unexpected situations.
	LevelWarn

	// LevelError is for failed operations the system survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Logger. The zero value writes Debug+ text to stderr.
type Config struct {
	// Level sets the minimum level; messages below it are discarded.
	Level Level

	// LogFile, when set, sends logs to the named file instead of stderr.
	// File logs are always JSON.
	LogFile string

	// Service is attached to every entry as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON format.
	JSON bool
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger wraps a slog.Logger with optional file ownership.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Default returns a stderr text logger at Info level.
func Default() *Logger {
	logger, _ := New(Config{Level: LevelInfo})
	return logger
}

// New creates a logger from the configuration.
//
// Outputs:
//
//	*Logger - The configured logger
//	error - Non-nil if the log file could not be opened
func New(config Config) (*Logger, error) {
	var (
		out  io.Writer = os.Stderr
		file *os.File
	)
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		file = f
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	var handler slog.Handler
	if config.JSON || file != nil {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if config.Service != "" {
		logger = logger.With(slog.String("service", config.Service))
	}
	return &Logger{Logger: logger, file: file}, nil
}

// Close releases the log file, if any. Idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
