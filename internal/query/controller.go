// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package query runs statements against a session without blocking the UI.
//
// Each submitted statement runs on its own goroutine and reports progress as
// sequence-tagged events. The UI goroutine drains them with PollEvents, which
// is the only place the shared result buffer receives streamed rows. Events
// from superseded requests are dropped there.
package query

import (
	"context"
	"iter"
	"sync"
	"time"

	"pkt.systems/pslog"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

const (
	DefaultRowCap        = 2000
	DefaultBatchSize     = 200
	DefaultCancelTimeout = 5 * time.Second
)

// IdentityResolver is satisfied by *identity.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, stmt string, cols []result.Column) (result.Identity, []result.Column)
}

// Options tunes a Controller. Zero values take defaults.
type Options struct {
	RowCap        int
	BatchSize     int
	CancelTimeout time.Duration
	Resolver      IdentityResolver
	Logger        pslog.Logger
}

// Controller owns the session on behalf of the UI. At most one request is
// active; submitting a new one supersedes the old.
type Controller struct {
	buf    *result.Buffer
	opts   Options
	log    pslog.Logger
	events chan Event
	wsem   chan struct{}
	base   context.Context
	stop   context.CancelFunc

	mu      sync.Mutex
	sess    session.Session
	seq     uint64
	active  *task
	handle  result.Handle
	status  Status
	writer  bool
	idle    chan struct{}
	suspect bool
	closed  bool
}

// New creates a controller streaming into buf and registers itself as the
// buffer's fetcher.
func New(sess session.Session, buf *result.Buffer, opts Options) *Controller {
	if opts.RowCap <= 0 {
		opts.RowCap = DefaultRowCap
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = DefaultCancelTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	base, stop := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		buf:    buf,
		opts:   opts,
		log:    opts.Logger.With("component", "query"),
		events: make(chan Event, 256),
		wsem:   make(chan struct{}, 1),
		base:   base,
		stop:   stop,
		sess:   sess,
		idle:   idle,
	}
	buf.SetFetcher(c)
	return c
}

// Submit starts stmt and returns its request sequence number. Any active
// request is superseded and cancelled in the background.
func (c *Controller) Submit(stmt string, params ...any) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, rderrors.New(rderrors.InvalidState, "controller is closed")
	}
	if c.writer {
		c.mu.Unlock()
		return 0, rderrors.New(rderrors.Busy, "a write-back transaction is in progress")
	}
	prev := c.active
	c.seq++
	ctx, cancel := context.WithCancel(c.base)
	t := newTask(c.seq, stmt, params, ctx, cancel)
	c.active = t
	c.handle = 0
	c.status = Status{Seq: t.seq, State: Running, Statement: stmt, StartedAt: time.Now(), Suspect: c.suspect}
	c.busyLocked()
	sess := c.sess
	c.mu.Unlock()

	if prev != nil {
		c.supersede(prev)
	}
	c.log.Info("query submitted", "seq", t.seq, "sql", logging.Truncate(logging.Mask(stmt), 200))
	go c.run(sess, t)
	return t.seq, nil
}

// Cancel requests cancellation of request seq. It is a no-op unless seq is
// the active request and still running. The outcome is reported later as
// either a Cancelled or a Completed event.
func (c *Controller) Cancel(seq uint64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rderrors.New(rderrors.InvalidState, "controller is closed")
	}
	t := c.active
	if t == nil || t.seq != seq || c.status.State != Running {
		c.mu.Unlock()
		return nil
	}
	c.status.State = Cancelling
	c.mu.Unlock()
	c.log.Info("query cancel requested", "seq", seq)
	c.requestCancel(t)
	return nil
}

// CancelActive cancels whatever request is running.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	var seq uint64
	if c.active != nil {
		seq = c.active.seq
	}
	c.mu.Unlock()
	if seq != 0 {
		_ = c.Cancel(seq)
	}
}

func (c *Controller) supersede(t *task) {
	if t.finished() {
		return
	}
	if t.markSuperseded() {
		t.cancel()
		return
	}
	c.requestCancel(t)
}

// requestCancel sends the server-side cancel and arms the watchdog. The
// watchdog gives up on acknowledgement after CancelTimeout, marks the
// session suspect and abandons the task.
func (c *Controller) requestCancel(t *task) {
	st := t.markCancel()
	go func() {
		ctx, cancel := context.WithTimeout(c.base, c.opts.CancelTimeout)
		defer cancel()
		if st != nil {
			if err := st.Cancel(ctx); err != nil {
				c.log.Warn("query cancel request failed", "seq", t.seq, "err", err)
			}
		} else {
			t.cancel()
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			if c.base.Err() != nil || t.isParked() {
				return
			}
			c.log.Warn("query cancel not acknowledged", "seq", t.seq, "timeout", c.opts.CancelTimeout.String())
			c.MarkSuspect()
			t.cancel()
			c.emit(Event{Seq: t.seq, Kind: EventCancelled, suspect: true})
		}
	}()
}

// PollEvents drains pending events without blocking, applying each one to
// the buffer and the controller state before yielding it. Call it from the
// UI goroutine only.
func (c *Controller) PollEvents() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case ev := <-c.events:
				if !c.apply(&ev) {
					continue
				}
				if !yield(ev) {
					return
				}
			default:
				return
			}
		}
	}
}

func (c *Controller) apply(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || ev.Seq != c.active.seq {
		return false
	}
	interrupted := c.status.State == Cancelled || c.status.State == Failed
	settled := interrupted || c.status.State == Completed
	switch ev.Kind {
	case EventStarted, EventRowsArrived, EventIdentityResolved:
		// A request that already settled as cancelled or failed, by the
		// watchdog or by Reset, keeps exactly the rows it had.
		if interrupted {
			return false
		}
	}
	switch ev.Kind {
	case EventStarted:
		c.handle = c.buf.Begin(ev.columns, c.opts.RowCap)
	case EventRowsArrived:
		ev.Rows = c.buf.Append(c.handle, ev.batch)
	case EventIdentityResolved:
		c.buf.SetIdentity(c.handle, ev.Identity, ev.annotated)
	case EventCompleted:
		if interrupted {
			return false
		}
		c.buf.SetMoreAvailable(c.handle, ev.Summary.Truncated)
		ev.Summary.Rows = c.buf.Len()
		c.status.State = Completed
		c.status.Summary = ev.Summary
		c.idleLocked()
		c.log.Info("query completed", "seq", ev.Seq, "rows", ev.Summary.Rows, "truncated", ev.Summary.Truncated, "elapsed", ev.Summary.Elapsed.String())
	case EventCancelled:
		if settled {
			return false
		}
		if ev.suspect {
			c.suspect = true
		}
		c.endLocked(ev, Cancelled)
		c.log.Info("query cancelled", "seq", ev.Seq, "rows", ev.Summary.Rows, "suspect", ev.suspect)
	case EventFailed:
		if settled {
			return false
		}
		if rderrors.Is(ev.Err, rderrors.ConnectionError) {
			c.suspect = true
			c.buf.MarkStale(c.handle)
		}
		c.endLocked(ev, Failed)
		c.log.Warn("query failed", "seq", ev.Seq, "err", ev.Err)
	}
	c.status.Suspect = c.suspect
	return true
}

// endLocked finishes an interrupted request: whatever rows arrived stay
// visible but are marked partial and identity is never resolved.
func (c *Controller) endLocked(ev *Event, state State) {
	if c.handle != 0 {
		c.buf.SetMoreAvailable(c.handle, false)
		c.buf.MarkPartial(c.handle)
		if v := c.buf.View(); v.Handle == c.handle && v.Identity.State == result.Unresolved {
			c.buf.SetIdentity(c.handle, result.Identity{State: result.Unavailable, Reason: "query did not complete"}, nil)
		}
	}
	ev.Summary.Rows = c.buf.Len()
	ev.Summary.Elapsed = time.Since(c.status.StartedAt)
	c.status.State = state
	c.status.Summary = ev.Summary
	c.status.Err = ev.Err
	c.idleLocked()
}

// FetchMore continues a parked request by n rows. It implements
// result.Fetcher; the buffer has already grown its window when this runs.
func (c *Controller) FetchMore(h result.Handle, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer {
		return rderrors.New(rderrors.Busy, "a write-back transaction is in progress")
	}
	t := c.active
	if t == nil || h == 0 || h != c.handle {
		return rderrors.New(rderrors.InvalidState, "result set is no longer current")
	}
	if c.status.State.Busy() {
		return rderrors.New(rderrors.Busy, "query is still running")
	}
	if c.status.State != Completed || !c.status.Summary.Truncated {
		return rderrors.New(rderrors.InvalidState, "no more rows are available")
	}
	select {
	case t.resume <- n:
	default:
		return rderrors.New(rderrors.Busy, "fetch already pending")
	}
	c.status.State = Running
	c.status.StartedAt = time.Now()
	c.busyLocked()
	c.log.Debug("query fetch more", "seq", t.seq, "rows", n)
	return nil
}

// State returns a snapshot of the controller.
func (c *Controller) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Idle reports whether no request owns the session.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.status.State.Busy()
}

// Suspect reports whether a cancel went unacknowledged or the connection
// failed. A suspect session should be reconnected before further use.
func (c *Controller) Suspect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspect
}

// Session returns the session requests run against.
func (c *Controller) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Reset swaps in a fresh session after a reconnect and clears the suspect
// flag. Any active request is superseded.
func (c *Controller) Reset(sess session.Session) {
	c.mu.Lock()
	prev := c.active
	c.sess = sess
	c.suspect = false
	c.status.Suspect = false
	if c.status.State.Busy() {
		c.status.State = Cancelled
		c.idleLocked()
	}
	c.mu.Unlock()
	if prev != nil && !prev.finished() {
		prev.cancel()
	}
	c.log.Info("query session reset")
}

// WaitIdle blocks until no request is running. Requests only leave the
// running state when their final event is applied by PollEvents.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		busy := c.status.State.Busy()
		ch := c.idle
		c.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Acquire reserves the session for a write-back transaction. While held,
// Submit and FetchMore fail with Busy. The returned release must be called.
func (c *Controller) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case c.wsem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		if err := c.WaitIdle(ctx); err != nil {
			<-c.wsem
			return nil, err
		}
		c.mu.Lock()
		if !c.status.State.Busy() {
			c.writer = true
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.writer = false
			c.mu.Unlock()
			<-c.wsem
		})
	}, nil
}

// MarkSuspect flags the session after a connection failure seen outside a
// streamed request.
func (c *Controller) MarkSuspect() {
	c.mu.Lock()
	c.suspect = true
	c.status.Suspect = true
	c.mu.Unlock()
}

// Close abandons every request. Pending events are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	t := c.active
	if c.status.State.Busy() {
		c.status.State = Cancelled
	}
	c.idleLocked()
	c.mu.Unlock()
	if t != nil && !t.finished() {
		if st := t.markCancel(); st != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.CancelTimeout)
			if err := st.Cancel(ctx); err != nil {
				c.log.Debug("query cancel on close failed", "err", err)
			}
			cancel()
		}
	}
	c.stop()
}

func (c *Controller) busyLocked() {
	select {
	case <-c.idle:
		c.idle = make(chan struct{})
	default:
	}
}

func (c *Controller) idleLocked() {
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.base.Done():
	}
}
