// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package tui

import (
	"fmt"
	"strings"
)

// clipboard is the part of tcell.Screen that writes the system clipboard.
// tcell sends it to the terminal as an OSC 52 sequence.
type clipboard interface {
	SetClipboard(data []byte)
}

// copyText puts text on the clipboard and reports whether there was one to
// put it on.
func copyText(cb clipboard, text string) bool {
	if cb == nil || text == "" {
		return false
	}
	cb.SetClipboard([]byte(text))
	return true
}

func lineCount(text string) int {
	return strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
}

// copiedNote describes where copied text went.
func copiedNote(text string, toClipboard bool) string {
	where := "the editor"
	if toClipboard {
		where = "the clipboard"
	}
	return fmt.Sprintf("copied %d line(s) to %s", lineCount(text), where)
}
