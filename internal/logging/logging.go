// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps charmbracelet/log into the structured logger used
// across the firewall, routing, and reconciler components, so call sites
// pass fields ("adapter", name) instead of building format strings.
package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is a thin, chainable wrapper over *charmlog.Logger.
type Logger struct {
	l *charmlog.Logger
	w io.Writer
}

// New creates a Logger writing to w at the given level (e.g. "info", "debug").
func New(w io.Writer, level string) *Logger {
	l := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})
	if lvl, err := charmlog.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return &Logger{l: l, w: w}
}

// Default returns a Logger writing to stderr at info level.
func Default() *Logger {
	return New(os.Stderr, "info")
}

// WithPrefix returns a Logger scoped under prefix (e.g. "reconciler").
func (lg *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{l: lg.l.WithPrefix(prefix), w: lg.w}
}

// WithFields returns a Logger with the given key/value pairs attached to
// every subsequent entry.
func (lg *Logger) WithFields(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...), w: lg.w}
}

// WithError returns a Logger with "error" attached.
func (lg *Logger) WithError(err error) *Logger {
	return lg.WithFields("error", err)
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// AddOutput mirrors log entries to an additional writer (e.g. a syslog
// forwarder) alongside the primary one.
func (lg *Logger) AddOutput(w io.Writer) *Logger {
	return New(io.MultiWriter(lg.w, w), "info")
}
