// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package grid

import (
	"iter"
	"strings"
)

// SearchResult holds the matches of one search. Matches can be ranged over
// any number of times. Partial is set when the statement has rows beyond the
// window that were not searched.
type SearchResult struct {
	Pattern string
	Matches iter.Seq[Position]
	Count   int
	Partial bool
}

// Search finds cells containing pattern, case-insensitively, in window
// order. Tombstoned rows are skipped and nothing is ever fetched. An empty
// pattern clears the search.
func (m *Model) Search(pattern string) SearchResult {
	m.search = pattern
	m.matches = nil
	m.hits = nil
	if pattern != "" {
		needle := strings.ToLower(pattern)
		m.hits = map[Position]bool{}
		for _, r := range m.view.Rows {
			if r.Deleted {
				continue
			}
			for c, cell := range r.Cells {
				if strings.Contains(strings.ToLower(cell.Display(m.opts.NullText)), needle) {
					p := Position{Row: r.Index, Col: c}
					m.matches = append(m.matches, p)
					m.hits[p] = true
				}
			}
		}
	}
	return m.SearchResult()
}

// SearchResult returns the last search against the current snapshot.
func (m *Model) SearchResult() SearchResult {
	matches := m.matches
	return SearchResult{
		Pattern: m.search,
		Matches: func(yield func(Position) bool) {
			for _, p := range matches {
				if !yield(p) {
					return
				}
			}
		},
		Count:   len(matches),
		Partial: m.search != "" && m.view.More,
	}
}

// FindNext moves the cursor to the first match after it, wrapping around.
func (m *Model) FindNext() (Position, bool) {
	if len(m.matches) == 0 {
		return m.cursor, false
	}
	for _, p := range m.matches {
		if p.Row > m.cursor.Row || (p.Row == m.cursor.Row && p.Col > m.cursor.Col) {
			m.SetCursor(p)
			return p, true
		}
	}
	m.SetCursor(m.matches[0])
	return m.matches[0], true
}

// FindPrev moves the cursor to the last match before it, wrapping around.
func (m *Model) FindPrev() (Position, bool) {
	if len(m.matches) == 0 {
		return m.cursor, false
	}
	for i := len(m.matches) - 1; i >= 0; i-- {
		p := m.matches[i]
		if p.Row < m.cursor.Row || (p.Row == m.cursor.Row && p.Col < m.cursor.Col) {
			m.SetCursor(p)
			return p, true
		}
	}
	last := m.matches[len(m.matches)-1]
	m.SetCursor(last)
	return last, true
}
