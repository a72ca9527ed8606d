// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package grid

import (
	"rowdeck/cli/internal/result"
)

// Frame is everything a renderer needs for one draw. It shares nothing
// mutable with the model.
type Frame struct {
	Handle   result.Handle
	Header   []HeaderCell
	Rows     []FrameRow
	Cursor   Position
	Top      int
	Left     int
	Total    int
	More     bool
	Partial  bool
	Stale    bool
	Fetching bool
	Identity result.Identity
	Mode     Mode
	Search   string
	Matches  int
}

type HeaderCell struct {
	Col      int
	Label    string
	Width    int
	Type     string
	Identity bool
}

type FrameRow struct {
	Index   int
	Deleted bool
	Cells   []FrameCell
}

type FrameCell struct {
	Text     string
	Null     bool
	Cursor   bool
	Selected bool
	Match    bool
}

// Frame renders the visible part of the snapshot.
func (m *Model) Frame() Frame {
	v := m.view
	f := Frame{
		Handle:   v.Handle,
		Cursor:   m.cursor,
		Top:      m.top,
		Left:     m.left,
		Total:    len(v.Rows),
		More:     v.More,
		Partial:  v.Partial,
		Stale:    v.Stale,
		Fetching: v.Fetching,
		Identity: v.Identity,
		Mode:     m.sel.Mode,
		Search:   m.search,
		Matches:  len(m.matches),
	}
	cols := m.visibleCols()
	for _, c := range cols {
		col := v.Columns[c]
		w := m.ColumnWidth(c)
		f.Header = append(f.Header, HeaderCell{Col: c, Label: truncate(col.Name, w), Width: w, Type: col.Type, Identity: col.Identity})
	}
	end := min(m.top+m.height, len(v.Rows))
	for i := m.top; i < end; i++ {
		r := v.Rows[i]
		fr := FrameRow{Index: r.Index, Deleted: r.Deleted, Cells: make([]FrameCell, len(cols))}
		for j, c := range cols {
			p := Position{Row: i, Col: c}
			var cell result.Cell
			if c < len(r.Cells) {
				cell = r.Cells[c]
			}
			fr.Cells[j] = FrameCell{
				Text:     truncate(m.displayText(cell), f.Header[j].Width),
				Null:     cell.IsNull(),
				Cursor:   p == m.cursor,
				Selected: m.sel.Contains(p),
				Match:    m.hits[p],
			}
		}
		f.Rows = append(f.Rows, fr)
	}
	return f
}
