// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package status

import (
	"errors"
	"strings"
	"testing"
	"time"

	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
)

func TestLine(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := func(n int) []result.Row { return make([]result.Row, n) }

	tests := []struct {
		name string
		st   query.Status
		v    result.View
		want string
	}{
		{
			name: "nothing run yet",
			want: "ready",
		},
		{
			name: "completed with server tag",
			st:   query.Status{State: query.Completed, Summary: query.Summary{Tag: "SELECT 20", Exact: true, Elapsed: 12 * time.Millisecond}},
			v:    result.View{Handle: 1, Rows: rows(20)},
			want: "SELECT 20 (12 ms)",
		},
		{
			name: "truncated at the row cap",
			st:   query.Status{State: query.Completed, Summary: query.Summary{Truncated: true, Elapsed: 40 * time.Millisecond}},
			v:    result.View{Handle: 1, Rows: rows(2000), More: true},
			want: "SELECT 2000 (40 ms) [truncated]",
		},
		{
			name: "running shows elapsed and rows so far",
			st:   query.Status{State: query.Running, StartedAt: now.Add(-1500 * time.Millisecond)},
			v:    result.View{Handle: 1, Rows: rows(300), More: true},
			want: "running 1500 ms, 300 rows",
		},
		{
			name: "cancelled keeps partial rows",
			st:   query.Status{State: query.Cancelled, Summary: query.Summary{Elapsed: 15 * time.Second}},
			v:    result.View{Handle: 1, Rows: rows(5), Partial: true},
			want: "CANCELLED (15.0 s) [partial]",
		},
		{
			name: "connection failure marks stale and suspect",
			st: query.Status{State: query.Failed, Err: errors.New("conn closed\nat line 2"), Suspect: true,
				Summary: query.Summary{Elapsed: 3 * time.Millisecond}},
			v:    result.View{Handle: 1, Partial: true, Stale: true},
			want: "ERROR (3 ms): conn closed [partial] [stale] [reconnect]",
		},
		{
			name: "errors are masked",
			st:   query.Status{State: query.Failed, Err: errors.New("dial postgres://bob:hunter2@db failed")},
			v:    result.View{Handle: 1},
			want: "ERROR (0 ms): dial postgres://*:*@db failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Line(tt.st, tt.v, now); got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRendererPadsAndAnimates(t *testing.T) {
	now := time.Now()
	r := NewRenderer()
	running := query.Status{State: query.Running, StartedAt: now}
	v := result.View{Handle: 1, Rows: make([]result.Row, 12345)}

	first, changed := r.Render(running, v, now)
	if !changed {
		t.Fatal("first render should report a change")
	}
	second, _ := r.Render(running, v, now)
	if first == second {
		t.Errorf("spinner did not advance: %q", first)
	}

	done := query.Status{State: query.Completed, Summary: query.Summary{Tag: "SELECT 1"}}
	line, _ := r.Render(done, result.View{Handle: 1, Rows: make([]result.Row, 1)}, now)
	if len(line) < len(first) {
		t.Errorf("shorter line not padded: %q (len %d) after %q (len %d)", line, len(line), first, len(first))
	}
	if !strings.HasPrefix(line, "SELECT 1 (0 ms)") {
		t.Errorf("unexpected line %q", line)
	}
	if _, changed := r.Render(done, result.View{Handle: 1, Rows: make([]result.Row, 1)}, now); changed {
		t.Error("identical render reported a change")
	}

	r.Reset()
	line, _ = r.Render(done, result.View{Handle: 1, Rows: make([]result.Row, 1)}, now)
	if line != "SELECT 1 (0 ms)" {
		t.Errorf("after Reset got %q", line)
	}
}
