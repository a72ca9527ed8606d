// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package grid

import (
	"strings"

	"github.com/petar/GoLLRB/llrb"
)

// Mode is the selection shape.
type Mode uint8

const (
	SelectNone Mode = iota
	SelectCell
	SelectRow
	SelectRows
	SelectRange
)

func (m Mode) String() string {
	switch m {
	case SelectCell:
		return "cell"
	case SelectRow:
		return "row"
	case SelectRows:
		return "rows"
	case SelectRange:
		return "range"
	}
	return "none"
}

// Selection is a snapshot of what is selected. Rows is only set in
// SelectRows mode and is ascending.
type Selection struct {
	Mode   Mode
	Anchor Position
	Cursor Position
	Rows   []int
}

// Contains reports whether p is inside the selection.
func (s Selection) Contains(p Position) bool {
	switch s.Mode {
	case SelectCell:
		return p == s.Cursor
	case SelectRow:
		return p.Row == s.Cursor.Row
	case SelectRows:
		for _, r := range s.Rows {
			if r == p.Row {
				return true
			}
		}
	case SelectRange:
		r0, r1 := min(s.Anchor.Row, s.Cursor.Row), max(s.Anchor.Row, s.Cursor.Row)
		c0, c1 := min(s.Anchor.Col, s.Cursor.Col), max(s.Anchor.Col, s.Cursor.Col)
		return p.Row >= r0 && p.Row <= r1 && p.Col >= c0 && p.Col <= c1
	}
	return false
}

// Select sets a cell, row or range selection, dropping any picked rows.
// SelectRows is driven by ToggleRow and SelectAll instead.
func (m *Model) Select(mode Mode, anchor, cursor Position) Selection {
	anchor = m.clampPos(anchor)
	cursor = m.clampPos(cursor)
	switch mode {
	case SelectCell, SelectRow:
		m.picked = llrb.New()
		m.sel = Selection{Mode: mode, Anchor: cursor, Cursor: cursor}
	case SelectRange:
		m.picked = llrb.New()
		m.sel = Selection{Mode: mode, Anchor: anchor, Cursor: cursor}
	case SelectRows:
		m.sel = Selection{Mode: SelectRows, Rows: m.pickedRows()}
	default:
		m.sel = Selection{}
	}
	return m.sel
}

// ExtendTo moves the moving end of a range selection, starting one at the
// cursor when none is active.
func (m *Model) ExtendTo(p Position) Selection {
	if m.sel.Mode != SelectRange {
		return m.Select(SelectRange, m.cursor, p)
	}
	return m.Select(SelectRange, m.sel.Anchor, p)
}

// ToggleRow adds or removes a row from the multi-row set.
func (m *Model) ToggleRow(row int) Selection {
	if row < 0 || row >= m.rowCount() {
		return m.sel
	}
	if m.picked.Has(llrb.Int(row)) {
		m.picked.Delete(llrb.Int(row))
	} else {
		m.picked.ReplaceOrInsert(llrb.Int(row))
	}
	if m.picked.Len() == 0 {
		m.sel = Selection{}
		return m.sel
	}
	m.sel = Selection{Mode: SelectRows, Rows: m.pickedRows()}
	return m.sel
}

// SelectAll picks every live buffered row.
func (m *Model) SelectAll() Selection {
	m.picked = llrb.New()
	for _, r := range m.view.Rows {
		if !r.Deleted {
			m.picked.ReplaceOrInsert(llrb.Int(r.Index))
		}
	}
	m.sel = Selection{Mode: SelectRows, Rows: m.pickedRows()}
	return m.sel
}

func (m *Model) ClearSelection() {
	m.picked = llrb.New()
	m.sel = Selection{}
}

func (m *Model) Selection() Selection { return m.sel }

func (m *Model) pickedRows() []int {
	out := make([]int, 0, m.picked.Len())
	m.picked.AscendGreaterOrEqual(llrb.Int(0), func(i llrb.Item) bool {
		out = append(out, int(i.(llrb.Int)))
		return true
	})
	return out
}

// TargetRows returns the live rows a row action applies to: the selected
// rows, or the cursor row when nothing is selected.
func (m *Model) TargetRows() []int {
	var rows []int
	switch m.sel.Mode {
	case SelectRows:
		rows = m.sel.Rows
	case SelectRange:
		for r := min(m.sel.Anchor.Row, m.sel.Cursor.Row); r <= max(m.sel.Anchor.Row, m.sel.Cursor.Row); r++ {
			rows = append(rows, r)
		}
	case SelectRow, SelectCell:
		rows = []int{m.sel.Cursor.Row}
	default:
		if m.rowCount() > 0 {
			rows = []int{m.cursor.Row}
		}
	}
	out := rows[:0:0]
	for _, r := range rows {
		if r >= 0 && r < m.rowCount() && !m.view.Rows[r].Deleted {
			out = append(out, r)
		}
	}
	return out
}

// SelectedText returns the selected cells as tab-separated lines.
func (m *Model) SelectedText() string {
	c0, c1 := 0, m.colCount()-1
	switch m.sel.Mode {
	case SelectCell:
		c0, c1 = m.sel.Cursor.Col, m.sel.Cursor.Col
	case SelectRange:
		c0, c1 = min(m.sel.Anchor.Col, m.sel.Cursor.Col), max(m.sel.Anchor.Col, m.sel.Cursor.Col)
	case SelectNone:
		c0, c1 = m.cursor.Col, m.cursor.Col
	}
	var lines []string
	for _, r := range m.TargetRows() {
		row := m.view.Rows[r]
		var fields []string
		for c := c0; c <= c1 && c < len(row.Cells); c++ {
			fields = append(fields, row.Cells[c].Display(m.opts.NullText))
		}
		lines = append(lines, strings.Join(fields, "\t"))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) clampPos(p Position) Position {
	p.Row = clampInt(p.Row, 0, max(m.rowCount()-1, 0))
	p.Col = clampInt(p.Col, 0, max(m.colCount()-1, 0))
	return p
}
