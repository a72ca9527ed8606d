// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package writeback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/identity"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
	"rowdeck/cli/internal/session/sessiontest"
)

var usersRel = result.Relation{Schema: "public", Name: "users"}

const usersQuery = "SELECT id, email, nickname, active FROM users"

func usersMeta() session.RelationMeta {
	return session.RelationMeta{
		Relation: usersRel,
		Columns: []session.ColumnMeta{
			{Name: "id", Type: "int4"},
			{Name: "email", Type: "text"},
			{Name: "nickname", Type: "text", Nullable: true},
			{Name: "active", Type: "bool"},
		},
		PrimaryKey: []string{"id"},
		Unique:     [][]string{{"email"}},
	}
}

func userRow(id int64, email string, nick result.Cell, active bool) []result.Cell {
	return []result.Cell{result.IntCell(id), result.TextCell(email), nick, result.BoolCell(active)}
}

type fixture struct {
	sess  *sessiontest.Session
	table *sessiontest.Table
	ctl   *query.Controller
	buf   *result.Buffer
	eng   *Engine
}

// newFixture loads the users table through a real controller so identity is
// resolved the same way the UI does it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	sess := sessiontest.New()
	table := sess.AddTable(usersMeta(),
		userRow(1, "ada@example.com", result.TextCell("ada"), true),
		userRow(2, "bob@example.com", result.NullCell(), false),
		userRow(3, "cy@example.com", result.TextCell("cy"), true),
	)
	buf := result.NewBuffer()
	ctl := query.New(sess, buf, query.Options{
		Resolver: identity.NewResolver(sess, nil, logging.Discard()),
		Logger:   logging.Discard(),
	})
	t.Cleanup(ctl.Close)

	_, err := ctl.Submit(usersQuery)
	require.NoError(t, err)
	settle(t, ctl)
	require.Equal(t, query.Completed, ctl.State().State)
	require.Equal(t, result.Resolved, buf.View().Identity.State)

	return &fixture{sess: sess, table: table, ctl: ctl, buf: buf, eng: New(ctl, buf, logging.Discard())}
}

func settle(t *testing.T, ctl *query.Controller) {
	t.Helper()
	require.Eventually(t, func() bool {
		for range ctl.PollEvents() {
		}
		return ctl.Idle()
	}, 3*time.Second, time.Millisecond)
}

func TestCommitUpdatesServerAndBuffer(t *testing.T) {
	f := newFixture(t)

	in, err := f.eng.BeginEdit(1, 2, Proposal{Text: "bobby"})
	require.NoError(t, err)
	assert.True(t, in.Old.IsNull())
	assert.Equal(t, "bobby", in.New.String())

	row, err := f.eng.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, row.Index)
	assert.Equal(t, "bobby", row.Cells[2].String())

	got, _ := f.buf.Row(f.buf.Handle(), 1)
	assert.Equal(t, "bobby", got.Cells[2].String())
	assert.Equal(t, "bob@example.com", got.Cells[1].String())
	assert.Equal(t, "bobby", f.sess.TableRows(usersRel)[1][2].String())
	assert.False(t, f.buf.View().Stale)

	stmts := f.sess.Statements()
	assert.Equal(t, []string{
		usersQuery,
		"BEGIN",
		`UPDATE "public"."users" SET "nickname" = $1 WHERE "id" = $2`,
		`SELECT "id", "email", "nickname", "active" FROM "public"."users" WHERE "id" = $1`,
		"COMMIT",
	}, stmts)
}

func TestCommitEditingKeyReselectsByNewKey(t *testing.T) {
	f := newFixture(t)

	in, err := f.eng.BeginEdit(0, 0, Proposal{Text: " 10 "})
	require.NoError(t, err)
	row, err := f.eng.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "10", row.Cells[0].String())
	assert.Equal(t, "ada@example.com", row.Cells[1].String())
	assert.Equal(t, "10", f.sess.TableRows(usersRel)[0][0].String())
}

func TestCommitSetsNull(t *testing.T) {
	f := newFixture(t)

	in, err := f.eng.BeginEdit(0, 2, Proposal{Null: true})
	require.NoError(t, err)
	row, err := f.eng.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, row.Cells[2].IsNull())
	assert.True(t, f.sess.TableRows(usersRel)[0][2].IsNull())
}

func TestCommitConflictWhenServerRowVanished(t *testing.T) {
	f := newFixture(t)
	in, err := f.eng.BeginEdit(1, 2, Proposal{Text: "gone"})
	require.NoError(t, err)

	require.Equal(t, 1, f.sess.DeleteWhere(usersRel, "id", result.IntCell(2)))
	_, err = f.eng.Commit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, rderrors.Is(err, rderrors.WriteConflict), "got %v", err)

	v := f.buf.View()
	assert.True(t, v.Stale)
	assert.True(t, v.Rows[1].Cells[2].IsNull(), "buffer must not change on conflict")
	stmts := f.sess.Statements()
	assert.Equal(t, "ROLLBACK", stmts[len(stmts)-1])
}

func TestCommitConstraintViolationRollsBack(t *testing.T) {
	f := newFixture(t)
	f.table.Check = func(row []result.Cell) error {
		if !strings.Contains(row[1].String(), "@") {
			return errors.New(`new row for relation "users" violates check constraint "users_email_check"`)
		}
		return nil
	}

	in, err := f.eng.BeginEdit(0, 1, Proposal{Text: "nope"})
	require.NoError(t, err)
	_, err = f.eng.Commit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, rderrors.Is(err, rderrors.ConstraintViolation))
	assert.Contains(t, err.Error(), "users_email_check")

	assert.Equal(t, "ada@example.com", f.sess.TableRows(usersRel)[0][1].String())
	assert.Equal(t, "ada@example.com", f.buf.View().Rows[0].Cells[1].String())
	assert.False(t, f.buf.View().Stale)
	assert.False(t, f.ctl.Suspect())
}

func TestCommitConnectionErrorMarksSuspect(t *testing.T) {
	f := newFixture(t)
	in, err := f.eng.BeginEdit(0, 2, Proposal{Text: "x"})
	require.NoError(t, err)

	f.sess.FailNext(rderrors.Wrap(rderrors.ConnectionError, "connection lost", errors.New("unexpected EOF")))
	_, err = f.eng.Commit(context.Background(), in)
	assert.True(t, rderrors.Is(err, rderrors.ConnectionError))
	assert.True(t, f.ctl.Suspect())
}

func TestCommitWaitsForRunningQuery(t *testing.T) {
	f := newFixture(t)
	in, err := f.eng.BeginEdit(0, 2, Proposal{Text: "x"})
	require.NoError(t, err)

	f.sess.Script("SELECT pg_sleep(10)", sessiontest.Script{
		Columns:    []result.Column{{Name: "pg_sleep", Type: "void"}},
		Rows:       [][]result.Cell{{result.NullCell()}},
		BlockAfter: 0,
	})
	_, err = f.ctl.Submit("SELECT pg_sleep(10)")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.eng.Commit(ctx, in)
	assert.True(t, rderrors.Is(err, rderrors.Busy), "got %v", err)
	assert.Equal(t, "ada", f.sess.TableRows(usersRel)[0][2].String())
}

func TestDeleteRowsTombstones(t *testing.T) {
	f := newFixture(t)

	n, err := f.eng.DeleteRows(context.Background(), []int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v := f.buf.View()
	require.Len(t, v.Rows, 3, "tombstones keep indices stable")
	assert.True(t, v.Rows[0].Deleted)
	assert.False(t, v.Rows[1].Deleted)
	assert.True(t, v.Rows[2].Deleted)

	server := f.sess.TableRows(usersRel)
	require.Len(t, server, 1)
	assert.Equal(t, "2", server[0][0].String())

	_, err = f.eng.BeginEdit(0, 2, Proposal{Text: "x"})
	assert.True(t, rderrors.Is(err, rderrors.NotEditable))
	_, err = f.eng.DeleteRows(context.Background(), []int{0})
	assert.True(t, rderrors.Is(err, rderrors.InvalidState))
}

func TestDeleteRowsConflictRollsBackAll(t *testing.T) {
	f := newFixture(t)
	f.sess.DeleteWhere(usersRel, "id", result.IntCell(3))

	_, err := f.eng.DeleteRows(context.Background(), []int{0, 2})
	assert.True(t, rderrors.Is(err, rderrors.WriteConflict))
	assert.Len(t, f.sess.TableRows(usersRel), 2, "first delete must roll back")
	assert.False(t, f.buf.View().Rows[0].Deleted)
}

// manual builds a buffer by hand for validation and generation tests.
func manual(t *testing.T, id result.Identity, rows ...[]result.Cell) (*Engine, *result.Buffer) {
	t.Helper()
	cols := []result.Column{
		{Name: "id", Type: "int4", Relation: usersRel, Base: "id", Identity: true},
		{Name: "email", Type: "text", Relation: usersRel, Base: "email"},
		{Name: "nickname", Type: "text", Nullable: true, Relation: usersRel, Base: "nickname"},
		{Name: "active", Type: "bool", Relation: usersRel, Base: "active"},
		{Name: "shout", Type: "text", Nullable: true},
	}
	buf := result.NewBuffer()
	h := buf.Begin(cols, 100)
	buf.Append(h, rows)
	buf.SetIdentity(h, id, nil)
	return New(nil, buf, logging.Discard()), buf
}

var pk = result.Identity{State: result.Resolved, Relation: usersRel, Key: []int{0}, Source: "primary key"}

func withShout(r []result.Cell) []result.Cell {
	return append(r, result.TextCell(strings.ToUpper(r[1].String())))
}

func TestBeginEditValidation(t *testing.T) {
	row := withShout(userRow(1, "ada@example.com", result.TextCell("ada"), true))
	tests := []struct {
		name string
		id   result.Identity
		col  int
		p    Proposal
		kind rderrors.Kind
	}{
		{name: "unresolved identity", id: result.Identity{}, col: 1, p: Proposal{Text: "x"}, kind: rderrors.NotEditable},
		{name: "unavailable identity", id: result.Identity{State: result.Unavailable, Reason: "joins are not editable"}, col: 1, p: Proposal{Text: "x"}, kind: rderrors.NotEditable},
		{name: "computed column", id: pk, col: 4, p: Proposal{Text: "x"}, kind: rderrors.NotEditable},
		{name: "null into not null", id: pk, col: 1, p: Proposal{Null: true}, kind: rderrors.NotEditable},
		{name: "null into key", id: pk, col: 0, p: Proposal{Null: true, ConfirmNull: true}, kind: rderrors.NotEditable},
		{name: "bad integer", id: pk, col: 0, p: Proposal{Text: "1.5"}, kind: rderrors.TypeCoercion},
		{name: "bad boolean", id: pk, col: 3, p: Proposal{Text: "maybe"}, kind: rderrors.TypeCoercion},
		{name: "confirmed null into not null", id: pk, col: 1, p: Proposal{Null: true, ConfirmNull: true}},
		{name: "nullable null", id: pk, col: 2, p: Proposal{Null: true}},
		{name: "boolean", id: pk, col: 3, p: Proposal{Text: "off"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := manual(t, tt.id, row)
			in, err := eng.BeginEdit(0, tt.col, tt.p)
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.col, in.Column)
				assert.Equal(t, []result.Cell{result.IntCell(1)}, in.KeyValues)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, rderrors.KindOf(err), "got %v", err)
		})
	}
}

func TestCommitRejectsDuplicateBufferedKey(t *testing.T) {
	sess := sessiontest.New()
	sess.AddTable(usersMeta(), userRow(1, "ada@example.com", result.NullCell(), true))
	g := &fakeGate{sess: sess}
	_, buf := manual(t, pk,
		withShout(userRow(1, "ada@example.com", result.NullCell(), true)),
		withShout(userRow(1, "ada@example.com", result.NullCell(), true)),
	)
	eng := New(g, buf, logging.Discard())

	in, err := eng.BeginEdit(0, 2, Proposal{Text: "x"})
	require.NoError(t, err)
	_, err = eng.Commit(context.Background(), in)
	assert.True(t, rderrors.Is(err, rderrors.WriteConflict))
	assert.Empty(t, sess.Statements(), "nothing may be sent when the target is ambiguous")
}

func TestGenerateStatements(t *testing.T) {
	eng, _ := manual(t, pk,
		withShout(userRow(1, "o'neil@example.com", result.NullCell(), true)),
		withShout(userRow(2, "bob@example.com", result.TextCell("bob"), false)),
	)

	upd, err := eng.GenerateUpdate([]int{0})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "public"."users" SET "email" = 'o''neil@example.com', "nickname" = NULL, "active" = TRUE WHERE "id" = 1;`+"\n", upd)

	del, err := eng.GenerateDelete([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."users" WHERE "id" = 1;`+"\n"+`DELETE FROM "public"."users" WHERE "id" = 2;`+"\n", del)

	ins, err := eng.CopyAsInsert([]int{1})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."users" ("id", "email", "nickname", "active") VALUES (2, 'bob@example.com', 'bob', FALSE);`+"\n", ins)

	eng, _ = manual(t, result.Identity{State: result.Unavailable, Reason: "grouped results are not editable"}, withShout(userRow(1, "a", result.NullCell(), true)))
	_, err = eng.GenerateDelete([]int{0})
	assert.True(t, rderrors.Is(err, rderrors.NotEditable))
}

type fakeGate struct {
	sess    session.Session
	suspect bool
}

func (g *fakeGate) Acquire(ctx context.Context) (func(), error) { return func() {}, nil }
func (g *fakeGate) Session() session.Session                    { return g.sess }
func (g *fakeGate) MarkSuspect()                                { g.suspect = true }
