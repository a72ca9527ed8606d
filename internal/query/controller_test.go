// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package query

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/identity"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
	"rowdeck/cli/internal/session/sessiontest"
)

var scriptCols = []result.Column{{Name: "n", Type: "int4"}}

func numbered(n int) [][]result.Cell {
	rows := make([][]result.Cell, n)
	for i := range rows {
		rows[i] = []result.Cell{result.IntCell(int64(i))}
	}
	return rows
}

func newController(t *testing.T, sess session.Session, opts Options) (*Controller, *result.Buffer) {
	t.Helper()
	buf := result.NewBuffer()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	c := New(sess, buf, opts)
	t.Cleanup(c.Close)
	return c, buf
}

// waitFor polls until an event of kind arrives and returns every event seen.
func waitFor(t *testing.T, c *Controller, kind EventKind) []Event {
	t.Helper()
	var seen []Event
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for ev := range c.PollEvents() {
			seen = append(seen, ev)
			if ev.Kind == kind {
				return seen
			}
		}
		time.Sleep(time.Millisecond)
	}
	kinds := make([]string, len(seen))
	for i, ev := range seen {
		kinds[i] = fmt.Sprintf("%d:%s", ev.Seq, ev.Kind)
	}
	t.Fatalf("no %s event within deadline; saw %v", kind, kinds)
	return nil
}

func TestSubmitStreamsToCompletion(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM gen", sessiontest.Script{Columns: scriptCols, Rows: numbered(5), BlockAfter: -1, Tag: "SELECT 5"})
	c, buf := newController(t, sess, Options{BatchSize: 2})

	seq, err := c.Submit("SELECT n FROM gen")
	require.NoError(t, err)
	assert.Equal(t, Running, c.State().State)
	assert.False(t, c.Idle())

	events := waitFor(t, c, EventCompleted)
	for _, ev := range events {
		assert.Equal(t, seq, ev.Seq)
	}
	st := c.State()
	assert.Equal(t, Completed, st.State)
	assert.Equal(t, "SELECT 5", st.Summary.Tag)
	assert.Equal(t, 5, st.Summary.Rows)
	assert.True(t, st.Summary.Exact)
	assert.False(t, st.Summary.Truncated)
	assert.Equal(t, 5, buf.Len())
	assert.False(t, buf.MoreAvailable())
	assert.True(t, c.Idle())
}

func TestRowCapParksAndFetchMoreContinues(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM big", sessiontest.Script{Columns: scriptCols, Rows: numbered(10), BlockAfter: -1})
	c, buf := newController(t, sess, Options{RowCap: 3, BatchSize: 2})

	_, err := c.Submit("SELECT n FROM big")
	require.NoError(t, err)
	waitFor(t, c, EventCompleted)

	st := c.State()
	assert.Equal(t, Completed, st.State)
	assert.True(t, st.Summary.Truncated)
	assert.False(t, st.Summary.Exact)
	assert.Equal(t, 3, buf.Len())
	assert.True(t, buf.MoreAvailable())
	require.Len(t, sess.Streams(), 1)
	assert.False(t, sess.Streams()[0].Closed(), "parked statement must stay open")

	require.NoError(t, buf.FetchMore(4))
	assert.Equal(t, Running, c.State().State)
	waitFor(t, c, EventCompleted)
	assert.Equal(t, 7, buf.Len())
	assert.True(t, buf.MoreAvailable())

	require.NoError(t, buf.FetchMore(100))
	waitFor(t, c, EventCompleted)
	v := buf.View()
	require.Len(t, v.Rows, 10)
	assert.False(t, v.More)
	assert.False(t, v.Fetching)
	for i, r := range v.Rows {
		assert.Equal(t, fmt.Sprint(i), r.Cells[0].String(), "rows must stay in server order")
	}
	assert.True(t, c.State().Summary.Exact)
	assert.Len(t, sess.Statements(), 1, "continuation must not re-issue the statement")
}

func TestExactlyCapRowsIsComplete(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM three", sessiontest.Script{Columns: scriptCols, Rows: numbered(3), BlockAfter: -1})
	c, buf := newController(t, sess, Options{RowCap: 3})

	_, err := c.Submit("SELECT n FROM three")
	require.NoError(t, err)
	waitFor(t, c, EventCompleted)
	assert.Equal(t, 3, buf.Len())
	assert.False(t, buf.MoreAvailable())
	assert.False(t, c.State().Summary.Truncated)
	assert.Error(t, buf.FetchMore(10))
}

func TestCancelKeepsPartialRows(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM slow", sessiontest.Script{Columns: scriptCols, Rows: numbered(5), BlockAfter: 2})
	c, buf := newController(t, sess, Options{})

	seq, err := c.Submit("SELECT n FROM slow")
	require.NoError(t, err)
	events := waitFor(t, c, EventRowsArrived)
	assert.Equal(t, 2, events[len(events)-1].Rows)

	c.Cancel(seq)
	assert.Equal(t, Cancelling, c.State().State)
	waitFor(t, c, EventCancelled)

	st := c.State()
	assert.Equal(t, Cancelled, st.State)
	assert.False(t, st.Suspect)
	v := buf.View()
	assert.Len(t, v.Rows, 2)
	assert.True(t, v.Partial)
	assert.Equal(t, result.Unavailable, v.Identity.State)
	assert.Equal(t, 1, sess.Streams()[0].Cancels())
}

func TestCancelWithoutAcknowledgementMarksSuspect(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT pg_sleep(60)", sessiontest.Script{Columns: scriptCols, Rows: numbered(1), BlockAfter: 0, IgnoreCancel: true})
	c, _ := newController(t, sess, Options{CancelTimeout: 30 * time.Millisecond})

	seq, err := c.Submit("SELECT pg_sleep(60)")
	require.NoError(t, err)
	waitFor(t, c, EventStarted)

	c.Cancel(seq)
	waitFor(t, c, EventCancelled)
	assert.True(t, c.Suspect())
	assert.Equal(t, Cancelled, c.State().State)
	assert.True(t, c.State().Suspect)
}

func TestRowsAfterUnacknowledgedCancelAreDropped(t *testing.T) {
	st := newLateStream(3, 4)
	c, buf := newController(t, lateSession{st}, Options{CancelTimeout: 30 * time.Millisecond})

	seq, err := c.Submit("SELECT n FROM remote")
	require.NoError(t, err)
	waitFor(t, c, EventRowsArrived)

	c.Cancel(seq)
	waitFor(t, c, EventCancelled)
	require.Equal(t, 3, buf.Len())

	close(st.release)
	require.Eventually(t, st.isClosed, time.Second, time.Millisecond)
	for ev := range c.PollEvents() {
		t.Fatalf("unexpected event %d:%s after cancel", ev.Seq, ev.Kind)
	}
	assert.Equal(t, Cancelled, c.State().State)
	assert.Equal(t, 3, buf.Len())
	assert.True(t, buf.View().Partial)
}

func TestResetDropsRowsOfAbandonedRequest(t *testing.T) {
	st := newLateStream(3, 4)
	c, buf := newController(t, lateSession{st}, Options{})

	_, err := c.Submit("SELECT n FROM remote")
	require.NoError(t, err)
	waitFor(t, c, EventRowsArrived)

	c.Reset(sessiontest.New())
	assert.Equal(t, Cancelled, c.State().State)

	close(st.release)
	require.Eventually(t, st.isClosed, time.Second, time.Millisecond)
	for ev := range c.PollEvents() {
		t.Fatalf("unexpected event %d:%s after reset", ev.Seq, ev.Kind)
	}
	assert.Equal(t, 3, buf.Len())
	assert.True(t, c.Idle())
}

func TestCancelIsNoopWhenNotRunning(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT 1", sessiontest.Script{Columns: scriptCols, Rows: numbered(1), BlockAfter: -1})
	c, buf := newController(t, sess, Options{})

	c.Cancel(42)
	assert.Equal(t, Idle, c.State().State)

	seq, err := c.Submit("SELECT 1")
	require.NoError(t, err)
	waitFor(t, c, EventCompleted)

	c.Cancel(seq)
	c.Cancel(seq + 1)
	assert.Equal(t, Completed, c.State().State)
	assert.False(t, buf.View().Partial)
	assert.Zero(t, sess.Streams()[0].Cancels())
}

func TestSubmitSupersedesRunningRequest(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM stuck", sessiontest.Script{Columns: scriptCols, Rows: numbered(5), BlockAfter: 0})
	sess.Script("SELECT n FROM quick", sessiontest.Script{Columns: scriptCols, Rows: numbered(3), BlockAfter: -1})
	c, buf := newController(t, sess, Options{})

	first, err := c.Submit("SELECT n FROM stuck")
	require.NoError(t, err)
	waitFor(t, c, EventStarted)

	second, err := c.Submit("SELECT n FROM quick")
	require.NoError(t, err)
	require.Greater(t, second, first)

	events := waitFor(t, c, EventCompleted)
	for _, ev := range events {
		assert.Equal(t, second, ev.Seq, "events from the superseded request must be dropped")
	}
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, second, c.State().Seq)

	stuck := sess.Streams()[0]
	require.Eventually(t, func() bool { return stuck.Cancels() > 0 && stuck.Closed() }, time.Second, time.Millisecond)

	// late events from the first request never surface
	time.Sleep(10 * time.Millisecond)
	for ev := range c.PollEvents() {
		t.Fatalf("unexpected event %d:%s", ev.Seq, ev.Kind)
	}
}

func TestSubmitClosesParkedStream(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM big", sessiontest.Script{Columns: scriptCols, Rows: numbered(10), BlockAfter: -1})
	sess.Script("SELECT 1", sessiontest.Script{Columns: scriptCols, Rows: numbered(1), BlockAfter: -1})
	c, buf := newController(t, sess, Options{RowCap: 2})

	_, err := c.Submit("SELECT n FROM big")
	require.NoError(t, err)
	waitFor(t, c, EventCompleted)
	h := buf.Handle()

	_, err = c.Submit("SELECT 1")
	require.NoError(t, err)
	waitFor(t, c, EventCompleted)
	require.Eventually(t, func() bool { return sess.Streams()[0].Closed() }, time.Second, time.Millisecond)

	assert.Error(t, c.FetchMore(h, 5), "stale handle")
}

func TestFailureMarksConnectionSuspect(t *testing.T) {
	sess := sessiontest.New()
	sess.FailNext(rderrors.Wrap(rderrors.ConnectionError, "connection lost", fmt.Errorf("EOF")))
	c, _ := newController(t, sess, Options{})

	_, err := c.Submit("SELECT * FROM users")
	require.NoError(t, err)
	events := waitFor(t, c, EventFailed)
	last := events[len(events)-1]
	assert.True(t, rderrors.Is(last.Err, rderrors.ConnectionError))

	st := c.State()
	assert.Equal(t, Failed, st.State)
	assert.True(t, st.Suspect)
	assert.Error(t, st.Err)
}

func TestWriterGateExcludesQueries(t *testing.T) {
	sess := sessiontest.New()
	sess.Script("SELECT n FROM slow", sessiontest.Script{Columns: scriptCols, Rows: numbered(3), BlockAfter: 1})
	c, _ := newController(t, sess, Options{})

	release, err := c.Acquire(context.Background())
	require.NoError(t, err)
	_, err = c.Submit("SELECT n FROM slow")
	assert.True(t, rderrors.Is(err, rderrors.Busy))
	release()
	release()

	seq, err := c.Submit("SELECT n FROM slow")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Cancel(seq)
	waitFor(t, c, EventCancelled)
	release, err = c.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestIdentityResolvedAtFirstStop(t *testing.T) {
	sess := sessiontest.New()
	rel := result.Relation{Schema: "public", Name: "users"}
	sess.AddTable(session.RelationMeta{
		Relation:   rel,
		Columns:    []session.ColumnMeta{{Name: "id", Type: "int4"}, {Name: "email", Type: "text"}},
		PrimaryKey: []string{"id"},
	},
		[]result.Cell{result.IntCell(1), result.TextCell("a@example.com")},
		[]result.Cell{result.IntCell(2), result.TextCell("b@example.com")},
	)
	c, buf := newController(t, sess, Options{Resolver: identity.NewResolver(sess, nil, logging.Discard())})

	_, err := c.Submit("SELECT id, email FROM users")
	require.NoError(t, err)
	events := waitFor(t, c, EventCompleted)

	var resolvedAt, finishedAt int
	for i, ev := range events {
		switch ev.Kind {
		case EventIdentityResolved:
			resolvedAt = i
		case EventCompleted:
			finishedAt = i
		}
	}
	assert.Less(t, resolvedAt, finishedAt)
	v := buf.View()
	require.Equal(t, result.Resolved, v.Identity.State)
	assert.Equal(t, []int{0}, v.Identity.Key)
	assert.True(t, v.Columns[0].Identity)
	assert.False(t, v.Columns[1].Nullable)
}

// lateStream hands out its first batch at once and holds the second until
// release is closed, ignoring both context and cancel requests meanwhile.
type lateStream struct {
	first, second int
	release       chan struct{}

	mu     sync.Mutex
	calls  int
	closed bool
}

func newLateStream(first, second int) *lateStream {
	return &lateStream{first: first, second: second, release: make(chan struct{})}
}

func (s *lateStream) Columns() []result.Column { return scriptCols }

func (s *lateStream) Next(ctx context.Context, max int) ([][]result.Cell, bool, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call == 1 {
		return numbered(s.first), false, nil
	}
	<-s.release
	return numbered(s.second), true, nil
}

func (s *lateStream) Cancel(context.Context) error { return nil }

func (s *lateStream) Tag() string { return "SELECT" }

func (s *lateStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *lateStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type lateSession struct{ st *lateStream }

func (s lateSession) Execute(context.Context, string, ...any) (session.Stream, error) {
	return s.st, nil
}

func (lateSession) Metadata(context.Context, result.Relation) (session.RelationMeta, error) {
	return session.RelationMeta{}, fmt.Errorf("no catalog")
}

func (lateSession) Begin(context.Context) (session.Tx, error) {
	return nil, fmt.Errorf("read-only")
}
