// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package grid

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"rowdeck/cli/internal/result"
)

const maxManualWidth = 1000

var flatten = strings.NewReplacer("\r\n", "↵", "\n", "↵", "\r", "↵", "\t", " ")

// displayText is the single-line form of a cell shown in the grid.
func (m *Model) displayText(c result.Cell) string {
	return flatten.Replace(c.Display(m.opts.NullText))
}

// fit extends auto widths with rows appended since the last call. Widths
// only grow while a result set is current; Refit starts over.
func (m *Model) fit() {
	n := m.colCount()
	if len(m.widths) != n {
		m.widths = make([]int, n)
		for i, c := range m.view.Columns {
			m.widths[i] = runewidth.StringWidth(c.Name)
		}
		m.measured = 0
	}
	if m.measured > len(m.view.Rows) {
		m.measured = 0
	}
	for _, r := range m.view.Rows[m.measured:] {
		for i, cell := range r.Cells {
			if i >= n || m.widths[i] >= m.opts.MaxWidth {
				continue
			}
			if w := runewidth.StringWidth(m.displayText(cell)); w > m.widths[i] {
				m.widths[i] = w
			}
		}
	}
	m.measured = len(m.view.Rows)
}

// Refit recomputes auto widths from every buffered row, after rows were
// replaced in place.
func (m *Model) Refit() {
	m.widths = nil
	m.fit()
}

// ColumnWidth returns the display width of a column: its manual override,
// or the auto-fit width clamped to the configured bounds.
func (m *Model) ColumnWidth(col int) int {
	if w, ok := m.overrides[col]; ok {
		return w
	}
	if col < 0 || col >= len(m.widths) {
		return m.opts.MinWidth
	}
	return clampInt(m.widths[col], m.opts.MinWidth, m.opts.MaxWidth)
}

// SetColumnWidth pins a column width until the result set changes.
func (m *Model) SetColumnWidth(col, width int) {
	if col < 0 || col >= m.colCount() {
		return
	}
	m.overrides[col] = clampInt(width, m.opts.MinWidth, maxManualWidth)
	m.clamp()
}

// AdjustColumnWidth widens or narrows a column by delta.
func (m *Model) AdjustColumnWidth(col, delta int) {
	m.SetColumnWidth(col, m.ColumnWidth(col)+delta)
}

// ResetColumnWidth drops a manual override.
func (m *Model) ResetColumnWidth(col int) {
	delete(m.overrides, col)
	m.clamp()
}

// truncate shortens s to w cells with an ellipsis.
func truncate(s string, w int) string {
	if runewidth.StringWidth(s) <= w {
		return s
	}
	if w <= 3 {
		return runewidth.Truncate(s, w, "")
	}
	return runewidth.Truncate(s, w, "...")
}
