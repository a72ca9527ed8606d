// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"net/url"
	"os"
	"strings"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"

	"rowdeck/cli/internal/dsn"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/terminal"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// withSpinner runs fn behind a spinner on stderr. Non-interactive runs get
// no animation.
func withSpinner(text string, fn func() error) error {
	if !terminal.IsInteractive() {
		return fn()
	}
	cursor.Hide()
	defer cursor.Show()
	sp, err := pterm.DefaultSpinner.WithWriter(os.Stderr).WithRemoveWhenDone(true).Start(text)
	if err != nil {
		return fn()
	}
	err = fn()
	_ = sp.Stop()
	return err
}

// describeTarget names the server and database of a DSN without
// credentials.
func describeTarget(raw string) string {
	info, err := dsn.Parse(raw)
	if err != nil {
		return "database"
	}
	return info.Database + " on " + info.Host + ":" + info.Port
}

// maskDSN hides the password of a connection string but keeps the user,
// so the output still tells which role connects.
func maskDSN(raw string) string {
	if !strings.Contains(raw, "://") {
		return logging.Mask(raw)
	}
	info, err := dsn.Parse(raw)
	if err != nil {
		return logging.Mask(raw)
	}
	hasPassword := info.Password != ""
	info.Password = ""
	s := info.String()
	if !hasPassword {
		return s
	}
	user := url.User(info.User).String()
	return strings.Replace(s, "://"+user+"@", "://"+user+":***@", 1)
}
