// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package terminal wraps the few tty queries the line-oriented commands need.
package terminal

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const fallbackWidth = 80

// IsInteractive reports whether both stdin and stdout are terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the stdout width, or 80 when stdout is not a terminal.
func Width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallbackWidth
}

// Height returns the stdout height, or 0 when unknown.
func Height() int {
	if _, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return h
	}
	return 0
}

// ClearPreviousLines erases text that was echoed while the user typed it,
// plus the empty line Enter left the cursor on.
func ClearPreviousLines(w io.Writer, text string) {
	lines := linesFor(runewidth.StringWidth(text), Width()) + 1
	for i := range lines {
		fmt.Fprint(w, "\r\x1b[2K")
		if i < lines-1 {
			fmt.Fprint(w, "\x1b[1A")
		}
	}
}

// linesFor is the number of rows cells of text occupy at width.
func linesFor(cells, width int) int {
	if width <= 0 {
		width = fallbackWidth
	}
	return max(1, (cells+width-1)/width)
}

// ReadSecret reads a line from the terminal without echo.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
