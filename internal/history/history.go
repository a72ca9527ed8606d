// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package history keeps the statements run from the interactive editor in
// history.json under the XDG state dir, oldest first, and recalls them
// newest first.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rowdeck/cli/internal/xdg"
)

const fileVersion = 1

// FileName is the history file inside the state dir.
const FileName = "history.json"

// Entry is one executed statement. Connection names the target without
// credentials.
type Entry struct {
	Query      string    `json:"query"`
	Timestamp  time.Time `json:"timestamp"`
	Connection string    `json:"connection,omitempty"`
}

type file struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// History is a bounded statement list with a recall cursor. A zero max
// disables recording.
type History struct {
	mu      sync.Mutex
	path    string
	max     int
	entries []Entry
	dirty   bool
	cursor  int
}

// DefaultPath returns $XDG_STATE_HOME/rowdeck/history.json.
func DefaultPath() (string, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the history at path keeping at most max entries. A missing
// file is an empty history. A corrupted file also yields an empty history,
// together with the parse error, and is overwritten by the next Save.
func Load(path string, max int) (*History, error) {
	h := &History{path: path, max: max}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		h.Reset()
		return h, nil
	}
	if err != nil {
		return h, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		h.Reset()
		return h, fmt.Errorf("parse %s: %w", path, err)
	}
	h.entries = f.Entries
	h.trim()
	h.Reset()
	return h, nil
}

// Memory returns a history that is never written to disk.
func Memory(max int) *History {
	return &History{max: max}
}

// Push records query and rewinds the recall cursor. Blank statements are
// skipped; repeating the newest statement only refreshes its timestamp.
func (h *History) Push(query, connection string) {
	query = strings.TrimSpace(query)
	h.mu.Lock()
	defer h.mu.Unlock()
	if query == "" || h.max == 0 {
		return
	}
	now := time.Now().UTC()
	if n := len(h.entries); n > 0 && h.entries[n-1].Query == query {
		h.entries[n-1].Timestamp = now
		h.entries[n-1].Connection = connection
	} else {
		h.entries = append(h.entries, Entry{Query: query, Timestamp: now, Connection: connection})
		h.trim()
	}
	h.dirty = true
	h.cursor = len(h.entries)
}

func (h *History) trim() {
	if h.max >= 0 && len(h.entries) > h.max {
		h.entries = append([]Entry(nil), h.entries[len(h.entries)-h.max:]...)
	}
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Reset moves the recall cursor past the newest entry.
func (h *History) Reset() {
	h.mu.Lock()
	h.cursor = len(h.entries)
	h.mu.Unlock()
}

// Prev steps the cursor one entry back in time. It reports false at the
// oldest entry, leaving the cursor there.
func (h *History) Prev() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor <= 0 {
		return "", false
	}
	h.cursor--
	return h.entries[h.cursor].Query, true
}

// Next steps the cursor forward. Stepping past the newest entry returns
// an empty statement with ok true, so the editor can be cleared.
func (h *History) Next() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor >= len(h.entries) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.entries) {
		return "", true
	}
	return h.entries[h.cursor].Query, true
}

// Match is a search hit.
type Match struct {
	Index int
	Entry Entry
	Score int
}

// Search returns entries matching pattern, best first. A substring match
// outranks a match whose characters are merely in order; ties go to the
// newer entry. An empty pattern lists everything newest first.
func (h *History) Search(pattern string) []Match {
	h.mu.Lock()
	defer h.mu.Unlock()
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	var out []Match
	for i := len(h.entries) - 1; i >= 0; i-- {
		if score, ok := score(strings.ToLower(h.entries[i].Query), pattern); ok {
			out = append(out, Match{Index: i, Entry: h.entries[i], Score: score})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

func score(query, pattern string) (int, bool) {
	if pattern == "" {
		return 0, true
	}
	if strings.Contains(query, pattern) {
		return 2, true
	}
	rest := query
	for _, r := range pattern {
		i := strings.IndexRune(rest, r)
		if i < 0 {
			return 0, false
		}
		rest = rest[i+utf8.RuneLen(r):]
	}
	return 1, true
}

// Save writes the history if it changed since the last Save. The file is
// replaced atomically and is private to the user.
func (h *History) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty || h.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(file{Version: fileVersion, Entries: h.entries}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".history-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return err
	}
	h.dirty = false
	return nil
}
