// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowdeck/cli/internal/config"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
	"rowdeck/cli/internal/session/sessiontest"
)

var itemsRel = result.Relation{Schema: "public", Name: "items"}

func itemsSession() *sessiontest.Session {
	sess := sessiontest.New()
	var rows [][]result.Cell
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, []result.Cell{result.IntCell(i), result.TextCell("item")})
	}
	sess.AddTable(session.RelationMeta{
		Relation:   itemsRel,
		Columns:    []session.ColumnMeta{{Name: "id", Type: "int4"}, {Name: "label", Type: "text", Nullable: true}},
		PrimaryKey: []string{"id"},
	}, rows...)
	return sess
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Grid.RowCap = 2
	cfg.Grid.FetchBatch = 2
	cfg.Execution.CancelTimeout = time.Second
	return cfg
}

func newWorkspace(t *testing.T, sessions ...session.Session) *Workspace {
	t.Helper()
	i := 0
	connect := func(context.Context) (session.Session, error) {
		if i >= len(sessions) {
			return nil, errors.New("no more sessions")
		}
		s := sessions[i]
		i++
		return s, nil
	}
	w, err := New(context.Background(), connect, testConfig(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestRunStopsAtFirstWindow(t *testing.T) {
	w := newWorkspace(t, itemsSession())

	st, err := w.Run(context.Background(), "SELECT id, label FROM items", 0)
	require.NoError(t, err)
	assert.Equal(t, query.Completed, st.State)
	assert.True(t, st.Summary.Truncated)
	assert.Equal(t, 2, w.Buffer.Len())
	assert.True(t, w.Buffer.MoreAvailable())
	assert.Equal(t, result.Resolved, w.Buffer.View().Identity.State)
}

func TestRunFetchesUpToLimit(t *testing.T) {
	w := newWorkspace(t, itemsSession())

	st, err := w.Run(context.Background(), "SELECT id, label FROM items", 100)
	require.NoError(t, err)
	assert.Equal(t, query.Completed, st.State)
	assert.False(t, st.Summary.Truncated)
	assert.Equal(t, 5, w.Buffer.Len())
	assert.False(t, w.Buffer.MoreAvailable())
}

func TestRunReportsFailure(t *testing.T) {
	w := newWorkspace(t, itemsSession())

	st, err := w.Run(context.Background(), "SELECT id FROM missing", 0)
	require.Error(t, err)
	assert.Equal(t, query.Failed, st.State)
}

func TestReconnectSwapsSession(t *testing.T) {
	first, second := itemsSession(), itemsSession()
	w := newWorkspace(t, first, second)
	w.Controller.MarkSuspect()
	require.True(t, w.Controller.Suspect())

	require.NoError(t, w.Reconnect(context.Background()))
	assert.Same(t, second, w.Session())
	assert.False(t, w.Controller.Suspect())

	_, err := w.Run(context.Background(), "SELECT id, label FROM items", 0)
	require.NoError(t, err)
	assert.Empty(t, first.Statements())
	assert.Len(t, second.Statements(), 1)
}

func TestReconnectFailureKeepsSession(t *testing.T) {
	first := itemsSession()
	w := newWorkspace(t, first)

	require.Error(t, w.Reconnect(context.Background()))
	assert.Same(t, first, w.Session())
}

func TestGridOptionsFollowConfig(t *testing.T) {
	w := newWorkspace(t, itemsSession())
	opts := w.GridOptions()
	assert.Equal(t, 2, opts.FetchBatch)
	assert.Equal(t, "NULL", opts.NullText)
	assert.Equal(t, 40, opts.MaxWidth)
}
