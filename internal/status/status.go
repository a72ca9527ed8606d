// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package status formats the one-line summary shown under the grid and
// after non-interactive runs.
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"

	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
)

// Marker suffixes appended to the line.
const (
	Truncated = "[truncated]"
	Partial   = "[partial]"
	Stale     = "[stale]"
	Suspect   = "[reconnect]"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Line renders st and the buffered view as plain text, e.g.
// "SELECT 20 (12 ms)" or "SELECT 2000 (40 ms) [truncated]".
func Line(st query.Status, v result.View, now time.Time) string {
	var b strings.Builder
	switch st.State {
	case query.Idle:
		if v.Handle == 0 {
			return "ready"
		}
		b.WriteString(fmt.Sprintf("%d rows", len(v.Rows)))
	case query.Running, query.Cancelling:
		label := "running"
		if st.State == query.Cancelling {
			label = "cancelling"
		}
		fmt.Fprintf(&b, "%s %s", label, elapsed(now.Sub(st.StartedAt)))
		if n := len(v.Rows); n > 0 {
			fmt.Fprintf(&b, ", %d rows", n)
		}
	case query.Completed:
		fmt.Fprintf(&b, "%s (%s)", tag(st.Summary, len(v.Rows)), elapsed(st.Summary.Elapsed))
	case query.Cancelled:
		fmt.Fprintf(&b, "CANCELLED (%s)", elapsed(st.Summary.Elapsed))
	case query.Failed:
		msg := "query failed"
		if st.Err != nil {
			msg = logging.Truncate(logging.Mask(firstLine(st.Err.Error())), 120)
		}
		fmt.Fprintf(&b, "ERROR (%s): %s", elapsed(st.Summary.Elapsed), msg)
	}
	for _, m := range markers(st, v) {
		b.WriteByte(' ')
		b.WriteString(m)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func tag(s query.Summary, rows int) string {
	if s.Tag != "" && !s.Truncated {
		return s.Tag
	}
	return fmt.Sprintf("SELECT %d", rows)
}

func markers(st query.Status, v result.View) []string {
	var out []string
	if v.More && !st.State.Busy() {
		out = append(out, Truncated)
	}
	if v.Partial {
		out = append(out, Partial)
	}
	if v.Stale {
		out = append(out, Stale)
	}
	if st.Suspect {
		out = append(out, Suspect)
	}
	return out
}

// elapsed renders whole milliseconds below ten seconds, tenths above.
func elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1f s", d.Seconds())
}

// Styled colors a plain line for pterm output by its state.
func Styled(st query.Status, line string) string {
	switch st.State {
	case query.Completed:
		return pterm.FgGreen.Sprint(line)
	case query.Cancelled:
		return pterm.FgYellow.Sprint(line)
	case query.Failed:
		return pterm.FgRed.Sprint(line)
	case query.Running, query.Cancelling:
		return pterm.FgCyan.Sprint(line)
	}
	return line
}

// Renderer produces a padded, animated status line for repeated redraws in
// the same terminal area. Padding keeps a shorter line from leaving debris
// of the previous one.
type Renderer struct {
	mu       sync.Mutex
	frame    int
	maxWidth int
	last     string
}

func NewRenderer() *Renderer { return &Renderer{} }

// Render returns the next line to draw and whether it differs from the
// previous draw.
func (r *Renderer) Render(st query.Status, v result.View, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := Line(st, v, now)
	if st.State.Busy() {
		line = spinnerFrames[r.frame%len(spinnerFrames)] + " " + line
		r.frame++
	}
	line = r.pad(line)
	changed := line != r.last
	r.last = line
	return line, changed
}

// Reset forgets the padding width, for a fresh area.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxWidth = 0
	r.last = ""
}

func (r *Renderer) pad(line string) string {
	w := runewidth.StringWidth(line)
	if w > r.maxWidth {
		r.maxWidth = w
	}
	if gap := r.maxWidth - w; gap > 0 {
		return line + strings.Repeat(" ", gap)
	}
	return line
}
