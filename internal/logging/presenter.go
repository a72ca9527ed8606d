// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	rderrors "rowdeck/cli/internal/errors"
)

// PresentError formats an error for user display with masking.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", context, Mask(err.Error()))
}

// Hint returns the one-line next step for an error kind, or "".
func Hint(err error) string {
	switch rderrors.KindOf(err) {
	case rderrors.NotEditable:
		return "this result has no usable row identity; select from a single table with a primary key"
	case rderrors.TypeCoercion:
		return "fix the value and commit again"
	case rderrors.WriteConflict:
		return "the row changed on the server; re-run the query"
	case rderrors.ConstraintViolation:
		return "the change was rolled back"
	case rderrors.ConnectionError:
		return "reconnect and re-run the query"
	case rderrors.Busy:
		return "wait for the running query to finish or cancel it"
	}
	return ""
}

// FormatError renders an error block for the non-interactive commands.
func FormatError(err error) string {
	var b strings.Builder
	title := "Query Failed"
	if rderrors.Is(err, rderrors.ConnectionError) {
		title = "Connection Lost"
	}
	b.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint(title))
	b.WriteString("\n\n")
	b.WriteString(Mask(err.Error()))
	b.WriteString("\n")
	if h := Hint(err); h != "" {
		b.WriteString("\n")
		b.WriteString(pterm.NewStyle(pterm.FgYellow).Sprint("→ " + h))
		b.WriteString("\n")
	}
	return b.String()
}
