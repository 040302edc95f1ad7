// Package logging builds the loggers used across vscsync.
//
// Each subsystem gets a *log.Logger with a bracketed prefix ("[sync] ",
// "[daemon] "). When a log file is configured, output goes both to
// stderr and to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/midah/vscsync/internal/config"
)

// Setup returns a factory producing prefixed loggers according to cfg.
// The returned close function flushes and closes the rotating file, if any.
func Setup(cfg config.LogConfig) (func(prefix string) *log.Logger, func() error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closeFn = rotator.Close
	}

	factory := func(prefix string) *log.Logger {
		return log.New(w, prefix, log.LstdFlags)
	}

	return factory, closeFn
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
