// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"

	"rowdeck/cli/internal/grid"
)

const colorSelected = tcell.ColorNavy

var (
	styleHeader    = tcell.StyleDefault.Bold(true).Underline(true)
	styleKeyHeader = styleHeader.Foreground(tcell.ColorYellow)
	styleCell      = tcell.StyleDefault
	styleNull      = tcell.StyleDefault.Foreground(tcell.ColorGray).Italic(true)
	styleMatch     = tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorYellow)
	styleDeleted   = tcell.StyleDefault.Foreground(tcell.ColorRed).StrikeThrough(true)
	styleEmpty     = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

// gridView paints grid frames. The model owns scrolling, widths and
// selection; the view only maps its frame onto the screen.
type gridView struct {
	*tview.Box
	model *grid.Model
	empty string
}

func newGridView(model *grid.Model) *gridView {
	g := &gridView{Box: tview.NewBox(), model: model, empty: "no result"}
	g.SetBorder(true).SetTitle(" results ").SetTitleAlign(tview.AlignLeft)
	return g
}

func (g *gridView) Draw(screen tcell.Screen) {
	g.DrawForSubclass(screen, g)
	x, y, width, height := g.GetInnerRect()
	if width <= 0 || height <= 0 {
		return
	}
	// One line for the header.
	g.model.SetViewport(height-1, width)
	drawFrame(screen, g.model.Frame(), x, y, width, height, g.empty)
}

// drawFrame paints f into the rectangle at x, y.
func drawFrame(screen tcell.Screen, f grid.Frame, x, y, width, height int, empty string) {
	if len(f.Header) == 0 {
		put(screen, x, y, width, empty, styleEmpty)
		return
	}
	cx := x
	for _, h := range f.Header {
		st := styleHeader
		if h.Identity {
			st = styleKeyHeader
		}
		put(screen, cx, y, min(h.Width, x+width-cx), h.Label, st)
		cx += h.Width + 1
		if cx >= x+width {
			break
		}
	}
	for i, row := range f.Rows {
		ry := y + 1 + i
		if ry >= y+height {
			break
		}
		cx = x
		for j, cell := range row.Cells {
			w := min(f.Header[j].Width, x+width-cx)
			if w <= 0 {
				break
			}
			put(screen, cx, ry, w, cell.Text, cellStyle(row, cell))
			cx += f.Header[j].Width + 1
		}
	}
}

func cellStyle(row grid.FrameRow, c grid.FrameCell) tcell.Style {
	st := styleCell
	switch {
	case row.Deleted:
		st = styleDeleted
	case c.Match:
		st = styleMatch
	case c.Null:
		st = styleNull
	}
	if c.Selected && !c.Match {
		st = st.Background(colorSelected)
	}
	if c.Cursor {
		st = st.Reverse(true)
	}
	return st
}

// put writes s left-aligned into width cells, padding with spaces.
func put(screen tcell.Screen, x, y, width int, s string, style tcell.Style) {
	col := 0
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		if col+w > width {
			break
		}
		screen.SetContent(x+col, y, r, nil, style)
		col += w
	}
	for ; col < width; col++ {
		screen.SetContent(x+col, y, ' ', nil, style)
	}
}
