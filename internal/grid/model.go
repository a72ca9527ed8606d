// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package grid is the view model over a result buffer: viewport, cursor,
// selection, search and column widths. It never owns rows; each Sync takes
// a fresh snapshot from the source.
package grid

import (
	"github.com/petar/GoLLRB/llrb"
	"pkt.systems/pslog"

	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/result"
)

const (
	DefaultFetchBatch = 500
	DefaultMinWidth   = 3
	DefaultMaxWidth   = 40
	DefaultNullText   = "NULL"
)

// Source is what the grid reads. *result.Buffer satisfies it.
type Source interface {
	View() result.View
	FetchMore(n int) error
}

// Position addresses a cell by window row index and column ordinal.
type Position struct {
	Row int
	Col int
}

// Options tunes a Model. Zero values take defaults.
type Options struct {
	FetchBatch int
	MinWidth   int
	MaxWidth   int
	NullText   string
	Logger     pslog.Logger
}

// Model is the grid state for one viewport. It is driven from the UI
// goroutine only and is not safe for concurrent use.
type Model struct {
	src  Source
	opts Options
	log  pslog.Logger

	view   result.View
	height int
	width  int
	top    int
	left   int
	cursor Position

	sel    Selection
	picked *llrb.LLRB

	widths    []int
	overrides map[int]int
	measured  int

	search  string
	matches []Position
	hits    map[Position]bool

	fetchPending bool
}

func New(src Source, opts Options) *Model {
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = DefaultFetchBatch
	}
	if opts.MinWidth <= 0 {
		opts.MinWidth = DefaultMinWidth
	}
	if opts.MaxWidth < opts.MinWidth {
		opts.MaxWidth = max(DefaultMaxWidth, opts.MinWidth)
	}
	if opts.NullText == "" {
		opts.NullText = DefaultNullText
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	m := &Model{
		src:       src,
		opts:      opts,
		log:       opts.Logger.With("component", "grid"),
		height:    1,
		width:     80,
		picked:    llrb.New(),
		overrides: map[int]int{},
	}
	m.Sync()
	return m
}

// Sync refreshes the snapshot. A new handle resets the cursor, viewport,
// selection, manual widths and search.
func (m *Model) Sync() {
	v := m.src.View()
	if v.Handle != m.view.Handle {
		m.log.Debug("grid result set changed", "handle", uint64(v.Handle), "columns", len(v.Columns))
		m.top, m.left = 0, 0
		m.cursor = Position{}
		m.sel = Selection{}
		m.picked = llrb.New()
		m.overrides = map[int]int{}
		m.widths = nil
		m.measured = 0
		m.search, m.matches, m.hits = "", nil, nil
		m.fetchPending = false
	}
	m.view = v
	if !v.Fetching {
		m.fetchPending = false
	}
	m.fit()
	m.clamp()
}

// View returns the snapshot taken by the last Sync.
func (m *Model) View() result.View { return m.view }

// SetViewport sets the number of data rows and the terminal width available.
func (m *Model) SetViewport(height, width int) {
	m.height = max(height, 1)
	m.width = max(width, 1)
	m.clamp()
}

func (m *Model) Cursor() Position { return m.cursor }

// Offset returns the first visible row and column.
func (m *Model) Offset() (row, col int) { return m.top, m.left }

func (m *Model) rowCount() int { return len(m.view.Rows) }
func (m *Model) colCount() int { return len(m.view.Columns) }

func (m *Model) maxTop() int { return max(0, m.rowCount()-m.height) }

// maxLeft is the first column from which every remaining column fits.
func (m *Model) maxLeft() int {
	n := m.colCount()
	used := 0
	for c := n - 1; c >= 0; c-- {
		used += m.ColumnWidth(c) + 1
		if used-1 > m.width {
			return min(c+1, n-1)
		}
	}
	return 0
}

// visibleCols returns the columns shown from left, at least one.
func (m *Model) visibleCols() []int {
	var out []int
	used := 0
	for c := m.left; c < m.colCount(); c++ {
		w := m.ColumnWidth(c)
		if len(out) > 0 && used+1+w > m.width {
			break
		}
		if len(out) > 0 {
			used++
		}
		used += w
		out = append(out, c)
	}
	return out
}

// Scroll moves the viewport. Scrolling down until the last buffered row is
// in view, while the statement has more rows, starts one fetch.
func (m *Model) Scroll(dRows, dCols int) error {
	var err error
	if dRows > 0 && m.top+dRows >= m.maxTop() {
		err = m.fetch()
	}
	m.top = clampInt(m.top+dRows, 0, m.maxTop())
	m.left = clampInt(m.left+dCols, 0, m.maxLeft())
	if m.rowCount() > 0 {
		m.cursor.Row = clampInt(m.cursor.Row, m.top, min(m.top+m.height, m.rowCount())-1)
	}
	if cols := m.visibleCols(); len(cols) > 0 {
		m.cursor.Col = clampInt(m.cursor.Col, cols[0], cols[len(cols)-1])
	}
	return err
}

// MoveCursor moves the cursor and keeps it visible. Moving down onto the
// last buffered row fetches like Scroll.
func (m *Model) MoveCursor(dRows, dCols int) error {
	var err error
	if dRows > 0 && m.cursor.Row+dRows >= m.rowCount()-1 {
		err = m.fetch()
	}
	m.cursor.Row += dRows
	m.cursor.Col += dCols
	m.clamp()
	return err
}

// SetCursor jumps to a position.
func (m *Model) SetCursor(p Position) {
	m.cursor = p
	m.clamp()
}

// Page scrolls by whole viewports.
func (m *Model) Page(n int) error {
	return m.MoveCursor(n*m.height, 0)
}

func (m *Model) fetch() error {
	if !m.view.More || m.view.Fetching || m.fetchPending {
		return nil
	}
	if err := m.src.FetchMore(m.opts.FetchBatch); err != nil {
		m.log.Debug("grid fetch refused", "err", err)
		return err
	}
	m.fetchPending = true
	m.log.Debug("grid fetch started", "rows", m.opts.FetchBatch)
	return nil
}

// FetchPending reports whether a fetch started by the grid is unresolved.
func (m *Model) FetchPending() bool { return m.fetchPending }

// clamp keeps the cursor inside the window and the viewport around it.
func (m *Model) clamp() {
	rows, cols := m.rowCount(), m.colCount()
	m.cursor.Row = clampInt(m.cursor.Row, 0, max(rows-1, 0))
	m.cursor.Col = clampInt(m.cursor.Col, 0, max(cols-1, 0))

	if m.cursor.Row < m.top {
		m.top = m.cursor.Row
	}
	if m.cursor.Row >= m.top+m.height {
		m.top = m.cursor.Row - m.height + 1
	}
	m.top = clampInt(m.top, 0, m.maxTop())

	if m.cursor.Col < m.left {
		m.left = m.cursor.Col
	}
	for m.left < m.cursor.Col && !m.colVisible(m.cursor.Col) {
		m.left++
	}
	m.left = clampInt(m.left, 0, max(m.maxLeft(), min(m.cursor.Col, max(cols-1, 0))))
}

func (m *Model) colVisible(c int) bool {
	for _, v := range m.visibleCols() {
		if v == c {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}
