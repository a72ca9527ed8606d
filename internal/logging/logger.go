// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"rowdeck/cli/internal/xdg"
)

// FileName is the log file created in the XDG state directory.
const FileName = "rowdeck.log"

// Options maps a config level name onto pslog options. Console mode is for
// stderr; structured mode is for the log file.
func Options(level string, console bool) (pslog.Options, error) {
	opts := pslog.Options{Mode: pslog.ModeStructured, NoColor: true, VerboseFields: true}
	if console {
		opts.Mode = pslog.ModeConsole
		opts.NoColor = false
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "", "info":
		opts.MinLevel = pslog.InfoLevel
	case "warn", "warning":
		opts.MinLevel = pslog.WarnLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	default:
		return opts, fmt.Errorf("unknown log level %q (use trace, debug, info, warn or error)", level)
	}
	return opts, nil
}

// New builds a logger writing to w.
func New(w io.Writer, level string, console bool) (pslog.Logger, error) {
	opts, err := Options(level, console)
	if err != nil {
		return nil, err
	}
	return pslog.NewWithOptions(w, opts), nil
}

// Open creates the file logger used while the terminal UI owns the screen.
// The returned closer flushes and closes the log file.
func Open(level string) (pslog.Logger, io.Closer, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	log, err := New(f, level, false)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return log, f, nil
}

// Discard returns a logger that drops everything below error and writes
// nothing.
func Discard() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true, MinLevel: pslog.ErrorLevel})
}
