// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package result

import (
	"fmt"
	"sync"

	rderrors "rowdeck/cli/internal/errors"
)

// Handle identifies one result set. A new Begin invalidates every older handle.
type Handle uint64

// Fetcher continues the statement that produced the current result set.
type Fetcher interface {
	FetchMore(h Handle, n int) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(h Handle, n int) error

func (f FetcherFunc) FetchMore(h Handle, n int) error { return f(h, n) }

// View is a read-only snapshot of the buffer. Rows is a private copy of the
// window; Cells slices are shared but never mutated.
type View struct {
	Handle   Handle
	Columns  []Column
	Rows     []Row
	Cap      int
	More     bool
	Partial  bool
	Stale    bool
	Fetching bool
	Identity Identity
}

func (v View) Len() int { return len(v.Rows) }

// Buffer is the bounded row window for the current result set.
// Writes come from the execution controller and from write-back
// reconciliation; readers take snapshots through View.
type Buffer struct {
	mu       sync.RWMutex
	last     Handle
	cur      Handle
	columns  []Column
	rows     []Row
	cap      int
	more     bool
	partial  bool
	stale    bool
	fetching bool
	identity Identity
	fetcher  Fetcher
}

// NewBuffer creates an empty buffer with no active result set.
func NewBuffer() *Buffer { return &Buffer{} }

// SetFetcher registers the continuation used by FetchMore.
func (b *Buffer) SetFetcher(f Fetcher) {
	b.mu.Lock()
	b.fetcher = f
	b.mu.Unlock()
}

// Begin starts a new result set, replacing any prior one.
func (b *Buffer) Begin(columns []Column, cap int) Handle {
	if cap < 0 {
		cap = 0
	}
	cols := make([]Column, len(columns))
	for i, c := range columns {
		c.Ordinal = i
		cols[i] = c
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last++
	b.cur = b.last
	b.columns = cols
	b.rows = make([]Row, 0, min(cap, 256))
	b.cap = cap
	b.more, b.partial, b.stale, b.fetching = false, false, false, false
	b.identity = Identity{}
	return b.cur
}

// Append adds rows up to the cap and returns how many were kept. Excess rows
// are dropped and set the more-available flag. Stale handles are ignored.
func (b *Buffer) Append(h Handle, rows [][]Cell) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != b.cur || h == 0 {
		return 0
	}
	room := b.cap - len(b.rows)
	if room < 0 {
		room = 0
	}
	take := min(room, len(rows))
	for _, cells := range rows[:take] {
		b.rows = append(b.rows, Row{Index: len(b.rows), Cells: cells})
	}
	if len(rows) > take {
		b.more = true
	}
	return take
}

// FetchMore grows the window by n and asks the fetcher to continue the
// statement. It requires the more-available flag and no fetch in flight.
func (b *Buffer) FetchMore(n int) error {
	if n <= 0 {
		return rderrors.New(rderrors.InvalidState, "fetch size must be positive")
	}
	b.mu.Lock()
	switch {
	case b.cur == 0:
		b.mu.Unlock()
		return rderrors.New(rderrors.InvalidState, "no result set")
	case !b.more:
		b.mu.Unlock()
		return rderrors.New(rderrors.InvalidState, "no more rows available")
	case b.fetching:
		b.mu.Unlock()
		return rderrors.New(rderrors.InvalidState, "fetch already in progress")
	case b.fetcher == nil:
		b.mu.Unlock()
		return rderrors.New(rderrors.InvalidState, "result set cannot be continued")
	}
	h, f := b.cur, b.fetcher
	b.cap += n
	b.fetching = true
	b.mu.Unlock()

	if err := f.FetchMore(h, n); err != nil {
		b.mu.Lock()
		if b.cur == h {
			b.cap -= n
			b.fetching = false
		}
		b.mu.Unlock()
		return err
	}
	return nil
}

// SetMoreAvailable records whether the statement has rows beyond the window.
// It also ends any fetch in flight.
func (b *Buffer) SetMoreAvailable(h Handle, more bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != b.cur {
		return
	}
	b.more = more
	b.fetching = false
}

// ReplaceRow swaps the cells of one row. It is only used by reconciliation.
func (b *Buffer) ReplaceRow(h Handle, index int, cells []Cell) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != b.cur {
		return rderrors.New(rderrors.InvalidState, "result set was replaced")
	}
	if index < 0 || index >= len(b.rows) {
		return rderrors.New(rderrors.InvalidState, fmt.Sprintf("row %d is outside the window (0..%d)", index, len(b.rows)-1))
	}
	if len(cells) != len(b.columns) {
		return rderrors.New(rderrors.InvalidState, fmt.Sprintf("row has %d cells, result set has %d columns", len(cells), len(b.columns)))
	}
	b.rows[index] = Row{Index: index, Cells: append([]Cell(nil), cells...)}
	return nil
}

// MarkDeleted tombstones a row removed on the server. Its index stays valid.
func (b *Buffer) MarkDeleted(h Handle, index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != b.cur {
		return rderrors.New(rderrors.InvalidState, "result set was replaced")
	}
	if index < 0 || index >= len(b.rows) {
		return rderrors.New(rderrors.InvalidState, fmt.Sprintf("row %d is outside the window", index))
	}
	b.rows[index].Deleted = true
	return nil
}

// FindRows returns the indices of live rows whose key cells equal values.
func (b *Buffer) FindRows(h Handle, key []int, values []Cell) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if h != b.cur || len(key) == 0 || len(key) != len(values) {
		return nil
	}
	var out []int
	for _, r := range b.rows {
		if r.Deleted {
			continue
		}
		match := true
		for i, ord := range key {
			if ord >= len(r.Cells) || !r.Cells[ord].Equal(values[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, r.Index)
		}
	}
	return out
}

func (b *Buffer) MarkPartial(h Handle) { b.setFlag(h, &b.partial) }
func (b *Buffer) MarkStale(h Handle)   { b.setFlag(h, &b.stale) }

func (b *Buffer) setFlag(h Handle, flag *bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == b.cur && h != 0 {
		*flag = true
	}
}

// SetIdentity stores the resolution outcome. When columns is non-nil it
// replaces the descriptors (nullability and identity flags filled in).
func (b *Buffer) SetIdentity(h Handle, id Identity, columns []Column) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != b.cur {
		return
	}
	b.identity = id
	if columns != nil && len(columns) == len(b.columns) {
		b.columns = append([]Column(nil), columns...)
	}
}

// View returns a snapshot of the current result set.
func (b *Buffer) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := make([]Row, len(b.rows))
	copy(rows, b.rows)
	return View{
		Handle:   b.cur,
		Columns:  b.columns,
		Rows:     rows,
		Cap:      b.cap,
		More:     b.more,
		Partial:  b.partial,
		Stale:    b.stale,
		Fetching: b.fetching,
		Identity: b.identity,
	}
}

// Row returns a single row without copying the window.
func (b *Buffer) Row(h Handle, index int) (Row, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if h != b.cur || index < 0 || index >= len(b.rows) {
		return Row{}, false
	}
	return b.rows[index], true
}

func (b *Buffer) Handle() Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

func (b *Buffer) MoreAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.more
}
