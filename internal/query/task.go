// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// task is one submitted request. Its goroutine is the only reader of the
// stream; other goroutines only cancel it.
type task struct {
	seq    uint64
	stmt   string
	params []any
	ctx    context.Context
	cancel context.CancelFunc
	resume chan int
	done   chan struct{}

	mu              sync.Mutex
	stream          session.Stream
	cancelRequested bool
	superseded      bool
	parked          bool
}

func newTask(seq uint64, stmt string, params []any, ctx context.Context, cancel context.CancelFunc) *task {
	return &task{
		seq:    seq,
		stmt:   stmt,
		params: params,
		ctx:    ctx,
		cancel: cancel,
		resume: make(chan int, 1),
		done:   make(chan struct{}),
	}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// setStream publishes the stream to cancellers. It reports false when the
// request was abandoned before the stream existed.
func (t *task) setStream(st session.Stream) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = st
	return t.ctx.Err() == nil
}

// markCancel records the cancel request and returns the stream to signal,
// nil while Execute is still in progress.
func (t *task) markCancel() session.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelRequested = true
	return t.stream
}

func (t *task) cancelWasRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// markSuperseded flags the task and reports whether it is parked, in which
// case cancelling its context is enough to end it.
func (t *task) markSuperseded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.superseded = true
	return t.parked
}

// park reports false when the task was superseded and must exit instead.
func (t *task) park() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.superseded {
		return false
	}
	t.parked = true
	return true
}

func (t *task) unpark() {
	t.mu.Lock()
	t.parked = false
	t.mu.Unlock()
}

func (t *task) isParked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked
}

// run streams the request into events. Rows are read in batches no larger
// than the remaining window. When the window fills, one row of lookahead
// decides between completion and parking; a parked task keeps its stream
// open and waits for FetchMore to extend the window.
func (c *Controller) run(sess session.Session, t *task) {
	defer close(t.done)
	defer t.cancel()

	mark := time.Now()
	st, err := sess.Execute(t.ctx, t.stmt, t.params...)
	if err != nil {
		c.fail(t, err)
		return
	}
	defer func() {
		if err := st.Close(); err != nil {
			c.log.Debug("query stream close failed", "seq", t.seq, "err", err)
		}
	}()
	if !t.setStream(st) {
		c.fail(t, t.ctx.Err())
		return
	}
	cols := st.Columns()
	c.emit(Event{Seq: t.seq, Kind: EventStarted, columns: cols})

	var (
		budget   = c.opts.RowCap
		pending  [][]result.Cell
		done     bool
		resolved bool
	)
	for {
		for budget > 0 && (len(pending) > 0 || !done) {
			if err := t.ctx.Err(); err != nil {
				c.fail(t, err)
				return
			}
			var rows [][]result.Cell
			if len(pending) > 0 {
				rows, pending = pending, nil
			} else {
				rows, done, err = st.Next(t.ctx, min(c.opts.BatchSize, budget))
				if err == nil {
					err = t.ctx.Err()
				}
				if err != nil {
					c.fail(t, err)
					return
				}
			}
			if len(rows) > 0 {
				budget -= len(rows)
				c.emit(Event{Seq: t.seq, Kind: EventRowsArrived, batch: rows})
			}
		}
		if len(pending) == 0 && !done {
			pending, done, err = st.Next(t.ctx, 1)
			if err != nil {
				c.fail(t, err)
				return
			}
		}
		if !resolved {
			c.resolve(t, cols)
			resolved = true
		}
		if len(pending) == 0 {
			c.emit(Event{Seq: t.seq, Kind: EventCompleted, Summary: Summary{Tag: st.Tag(), Exact: true, Elapsed: time.Since(mark)}})
			return
		}
		c.emit(Event{Seq: t.seq, Kind: EventCompleted, Summary: Summary{Truncated: true, Elapsed: time.Since(mark)}})

		if !t.park() {
			return
		}
		select {
		case n := <-t.resume:
			t.unpark()
			budget = n
			mark = time.Now()
		case <-t.ctx.Done():
			return
		}
	}
}

func (c *Controller) resolve(t *task, cols []result.Column) {
	id := result.Identity{State: result.Unavailable, Reason: "identity resolution is disabled"}
	annotated := cols
	if c.opts.Resolver != nil {
		id, annotated = c.opts.Resolver.Resolve(t.ctx, t.stmt, cols)
	}
	c.emit(Event{Seq: t.seq, Kind: EventIdentityResolved, Identity: id, annotated: annotated})
}

// fail reports a stream error. Errors after a cancel request, or from an
// abandoned context, count as the cancel acknowledgement.
func (c *Controller) fail(t *task, err error) {
	if t.cancelWasRequested() || errors.Is(err, context.Canceled) {
		c.emit(Event{Seq: t.seq, Kind: EventCancelled})
		return
	}
	c.emit(Event{Seq: t.seq, Kind: EventFailed, Err: err})
}
