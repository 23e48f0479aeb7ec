// Package logging builds the zerolog logger shared by every component of a
// run. Records go to a console writer on stderr, filtered by the chosen
// level, and to a JSON log file that always records debug detail.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxFileSize is the size at which the log file is rotated on open.
	MaxFileSize = 10 * 1024 * 1024
	// MaxBackups is the number of rotated files kept (debug.log.1 ... .3).
	MaxBackups = 3
)

// Options configures Setup.
type Options struct {
	// Level is the console level: debug, info, warn or error.
	Level string
	// File is the log file path. Empty disables file logging.
	File string
	// Console receives human-readable output. Defaults to os.Stderr.
	Console io.Writer
	NoColor bool
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to warn.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// levelWriter drops records below min before handing them to w.
type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (l levelWriter) Write(p []byte) (int, error) { return l.w.Write(p) }

func (l levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}

// Setup creates the run logger. The returned closer flushes and closes the
// log file; it is never nil. When the log file cannot be opened the logger
// still works on the console and the error is returned alongside it.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleWriter := levelWriter{
		w: zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.Kitchen,
			NoColor:    opts.NoColor,
		},
		min: ParseLevel(opts.Level),
	}

	writers := []io.Writer{consoleWriter}
	var closer io.Closer = nopCloser{}
	var fileErr error

	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, levelWriter{w: f, min: zerolog.DebugLevel})
			closer = f
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()

	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", opts.File).Msg("Failed to open log file, logging to console only")
	} else {
		logger.Debug().Str("level", opts.Level).Str("log_file", opts.File).Msg("Logger initialized")
	}

	return logger, closer, fileErr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openLogFile creates the log file and its parent directories, rotating an
// oversized file first.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := rotate(path, MaxFileSize, MaxBackups); err != nil {
		return nil, fmt.Errorf("failed to rotate log file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// rotate shifts path to path.1, path.1 to path.2 and so on when path is at
// least maxSize bytes. The oldest backup is discarded.
func rotate(path string, maxSize int64, backups int) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	backup := func(n int) string { return path + "." + strconv.Itoa(n) }

	_ = os.Remove(backup(backups))
	for n := backups - 1; n >= 1; n-- {
		if err := os.Rename(backup(n), backup(n+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(path, backup(1))
}
