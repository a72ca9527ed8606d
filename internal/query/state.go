// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package query

import (
	"time"

	"rowdeck/cli/internal/result"
)

// State is the execution state of the controller's active request.
type State uint8

const (
	Idle State = iota
	Running
	Cancelling
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Busy reports whether the state owns the session.
func (s State) Busy() bool { return s == Running || s == Cancelling }

// Summary describes a finished (or parked) request.
type Summary struct {
	Tag     string
	Rows    int
	Elapsed time.Duration
	// Exact is set when the server reported completion; otherwise Rows is
	// a lower bound.
	Exact bool
	// Truncated is set when the window is full and the statement is parked
	// with more rows available.
	Truncated bool
}

// Status is a snapshot of the controller for the status line.
type Status struct {
	Seq       uint64
	State     State
	Statement string
	StartedAt time.Time
	Summary   Summary
	Err       error
	Suspect   bool
}

// EventKind tags controller events.
type EventKind uint8

const (
	EventStarted EventKind = iota
	EventRowsArrived
	EventIdentityResolved
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventRowsArrived:
		return "rows"
	case EventIdentityResolved:
		return "identity"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Event is one observation drained by PollEvents. Only events for the
// active request are ever yielded.
type Event struct {
	Seq      uint64
	Kind     EventKind
	Rows     int
	Summary  Summary
	Err      error
	Identity result.Identity

	columns   []result.Column
	batch     [][]result.Cell
	annotated []result.Column
	suspect   bool
}
