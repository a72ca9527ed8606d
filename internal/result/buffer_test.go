// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package result

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rderrors "rowdeck/cli/internal/errors"
)

func intRows(from, n int) [][]Cell {
	out := make([][]Cell, n)
	for i := range out {
		out[i] = []Cell{IntCell(int64(from + i)), TextCell(fmt.Sprintf("row-%d", from+i))}
	}
	return out
}

var testColumns = []Column{{Name: "id", Type: "int4"}, {Name: "name", Type: "text"}}

func TestAppendRespectsCap(t *testing.T) {
	for _, cap := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("cap=%d", cap), func(t *testing.T) {
			b := NewBuffer()
			h := b.Begin(testColumns, cap)

			kept := b.Append(h, intRows(0, cap))
			assert.Equal(t, cap, kept)
			assert.False(t, b.MoreAvailable(), "exactly cap rows must not set more-available")

			kept = b.Append(h, intRows(cap, 3))
			assert.Equal(t, 0, kept)
			assert.Equal(t, cap, b.Len())
			assert.True(t, b.MoreAvailable())
		})
	}
}

func TestAppendOverflowInOneBatch(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 3)
	require.Equal(t, 3, b.Append(h, intRows(0, 10)))
	v := b.View()
	require.Len(t, v.Rows, 3)
	assert.True(t, v.More)
	for i, r := range v.Rows {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprint(i), r.Cells[0].String())
	}
}

func TestBeginInvalidatesOldHandle(t *testing.T) {
	b := NewBuffer()
	old := b.Begin(testColumns, 10)
	b.Append(old, intRows(0, 2))
	h := b.Begin(testColumns, 10)
	assert.NotEqual(t, old, h)
	assert.Equal(t, 0, b.Append(old, intRows(2, 2)))
	assert.Equal(t, 0, b.Len())
	assert.Error(t, b.ReplaceRow(old, 0, intRows(9, 1)[0]))
}

type syncFetcher struct {
	b      *Buffer
	source [][]Cell
	next   int
	calls  int
}

func (f *syncFetcher) FetchMore(h Handle, n int) error {
	f.calls++
	end := min(f.next+n, len(f.source))
	f.b.Append(h, f.source[f.next:end])
	f.next = end
	f.b.SetMoreAvailable(h, f.next < len(f.source))
	return nil
}

func TestFetchMoreAppendsMinOfRemaining(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 10)
	src := intRows(0, 25)
	f := &syncFetcher{b: b, source: src, next: 10}
	b.SetFetcher(f)
	b.Append(h, src[:11])
	require.True(t, b.MoreAvailable())

	require.NoError(t, b.FetchMore(10))
	assert.Equal(t, 20, b.Len())
	assert.True(t, b.MoreAvailable())

	require.NoError(t, b.FetchMore(10))
	assert.Equal(t, 25, b.Len())
	assert.False(t, b.MoreAvailable())

	err := b.FetchMore(10)
	assert.True(t, rderrors.Is(err, rderrors.InvalidState))
	assert.Equal(t, 2, f.calls)
}

type refusingFetcher struct{}

func (refusingFetcher) FetchMore(Handle, int) error {
	return rderrors.New(rderrors.Busy, "query running")
}

func TestFetchMoreRollsBackOnRefusal(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 2)
	b.SetFetcher(refusingFetcher{})
	b.Append(h, intRows(0, 3))

	err := b.FetchMore(5)
	assert.True(t, rderrors.Is(err, rderrors.Busy))
	v := b.View()
	assert.Equal(t, 2, v.Cap)
	assert.False(t, v.Fetching)
	assert.True(t, v.More)
}

func TestFetchMoreGuardsInFlight(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 1)
	b.SetFetcher(FetcherFunc(func(Handle, int) error { return nil }))
	b.Append(h, intRows(0, 2))

	require.NoError(t, b.FetchMore(1))
	assert.True(t, rderrors.Is(b.FetchMore(1), rderrors.InvalidState))
	b.SetMoreAvailable(h, true)
	assert.NoError(t, b.FetchMore(1))
}

func TestReplaceRow(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 10)
	b.Append(h, intRows(0, 3))
	before := b.View()

	require.NoError(t, b.ReplaceRow(h, 1, []Cell{IntCell(1), TextCell("changed")}))
	assert.Equal(t, "changed", b.View().Rows[1].Cells[1].Text)
	assert.Equal(t, "row-1", before.Rows[1].Cells[1].Text, "earlier snapshots must not observe the swap")

	assert.Error(t, b.ReplaceRow(h, 3, intRows(3, 1)[0]))
	assert.Error(t, b.ReplaceRow(h, -1, intRows(3, 1)[0]))
	assert.Error(t, b.ReplaceRow(h, 0, []Cell{IntCell(0)}))
}

func TestFindRowsSkipsTombstones(t *testing.T) {
	b := NewBuffer()
	h := b.Begin(testColumns, 10)
	b.Append(h, [][]Cell{
		{IntCell(7), TextCell("a")},
		{IntCell(8), TextCell("b")},
		{IntCell(7), TextCell("c")},
	})
	assert.Equal(t, []int{0, 2}, b.FindRows(h, []int{0}, []Cell{IntCell(7)}))
	require.NoError(t, b.MarkDeleted(h, 0))
	assert.Equal(t, []int{2}, b.FindRows(h, []int{0}, []Cell{IntCell(7)}))
}

func TestParseRelation(t *testing.T) {
	tests := []struct {
		in   string
		want Relation
	}{
		{"users", Relation{Schema: "public", Name: "users"}},
		{"App.Users", Relation{Schema: "app", Name: "users"}},
		{`"App"."Users"`, Relation{Schema: "App", Name: "Users"}},
		{`"we""ird".x`, Relation{Schema: `we"ird`, Name: "x"}},
		{"", Relation{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRelation(tt.in), tt.in)
	}
}
