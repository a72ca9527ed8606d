// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sessiontest

import (
	"context"
	"sync"
	"sync/atomic"

	"rowdeck/cli/internal/result"
)

// Stream is a scripted row stream.
type Stream struct {
	cols         []result.Column
	rows         [][]result.Cell
	pos          int
	blockAt      int
	ignoreCancel bool
	tag          string

	cancelled  chan struct{}
	cancelOnce sync.Once
	released   chan struct{}
	relOnce    sync.Once
	cancels    atomic.Int32
	closed     atomic.Bool
}

func newStream(cols []result.Column, rows [][]result.Cell, blockAt int, ignoreCancel bool, tag string) *Stream {
	if tag == "" {
		tag = "SELECT"
	}
	return &Stream{
		cols:         cols,
		rows:         rows,
		blockAt:      blockAt,
		ignoreCancel: ignoreCancel,
		tag:          tag,
		cancelled:    make(chan struct{}),
		released:     make(chan struct{}),
	}
}

func (st *Stream) Columns() []result.Column { return st.cols }
func (st *Stream) Tag() string              { return st.tag }

// Unblock lets a blocked stream deliver its remaining rows.
func (st *Stream) Unblock() { st.relOnce.Do(func() { close(st.released) }) }

// Cancels reports how many times Cancel was called.
func (st *Stream) Cancels() int { return int(st.cancels.Load()) }

// Closed reports whether Close was called.
func (st *Stream) Closed() bool { return st.closed.Load() }

func (st *Stream) Cancel(ctx context.Context) error {
	st.cancels.Add(1)
	if !st.ignoreCancel {
		st.cancelOnce.Do(func() { close(st.cancelled) })
	}
	return nil
}

func (st *Stream) Close() error {
	st.closed.Store(true)
	return nil
}

func (st *Stream) blocking() bool {
	return st.blockAt >= 0 && st.pos >= st.blockAt && st.pos < len(st.rows) && !st.isReleased()
}

func (st *Stream) Next(ctx context.Context, max int) ([][]result.Cell, bool, error) {
	select {
	case <-st.cancelled:
		return nil, false, ErrCanceled
	default:
	}
	if st.blocking() {
		select {
		case <-st.cancelled:
			return nil, false, ErrCanceled
		case <-st.released:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	end := min(st.pos+max, len(st.rows))
	if st.blockAt >= 0 && st.pos < st.blockAt && !st.isReleased() {
		end = min(end, st.blockAt)
	}
	batch := st.rows[st.pos:end]
	st.pos = end
	return batch, st.pos >= len(st.rows), nil
}

func (st *Stream) isReleased() bool {
	select {
	case <-st.released:
		return true
	default:
		return false
	}
}
