// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingClipboard struct {
	data [][]byte
}

func (r *recordingClipboard) SetClipboard(data []byte) {
	r.data = append(r.data, data)
}

func TestCopyText(t *testing.T) {
	cb := &recordingClipboard{}
	assert.True(t, copyText(cb, "1\tada\n2\tgrace"))
	assert.Equal(t, [][]byte{[]byte("1\tada\n2\tgrace")}, cb.data)

	assert.False(t, copyText(cb, ""))
	assert.Len(t, cb.data, 1, "empty text is not copied")

	var none clipboard
	assert.False(t, copyText(none, "SELECT 1"))
}

func TestCopiedNote(t *testing.T) {
	assert.Equal(t, "copied 2 line(s) to the clipboard", copiedNote("a\nb", true))
	assert.Equal(t, "copied 1 line(s) to the editor", copiedNote("UPDATE t SET a = 1;\n", false))
}
