// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package writeback turns grid edits and row actions into SQL against the
// relation a result set was resolved to. Every write runs in one explicit
// transaction, touches exactly one server row per buffered row, and is
// reconciled into the buffer only after commit.
package writeback

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/pslog"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// Gate is the part of the execution controller write-back depends on.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
	Session() session.Session
	MarkSuspect()
}

// Proposal is the user's replacement for one cell.
type Proposal struct {
	Text string
	Null bool
	// ConfirmNull allows NULL into a column the server declares NOT NULL.
	ConfirmNull bool
}

// Intent is a validated single-cell edit, valid for one Commit.
type Intent struct {
	Handle    result.Handle
	Row       int
	Relation  result.Relation
	Key       []int
	KeyValues []result.Cell
	Column    int
	Old       result.Cell
	New       result.Cell

	param   any
	columns []result.Column
}

// Engine performs write-back for one buffer.
type Engine struct {
	gate Gate
	buf  *result.Buffer
	log  pslog.Logger
}

func New(gate Gate, buf *result.Buffer, log pslog.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{gate: gate, buf: buf, log: log.With("component", "writeback")}
}

// editable checks the result set can be written back to at all.
func editable(v result.View) error {
	if v.Handle == 0 {
		return rderrors.New(rderrors.InvalidState, "no result set")
	}
	if !v.Identity.Editable() {
		reason := v.Identity.Reason
		if reason == "" {
			reason = "row identity is " + v.Identity.State.String()
		}
		return rderrors.New(rderrors.NotEditable, reason)
	}
	if v.Stale {
		return rderrors.New(rderrors.InvalidState, "result set is stale; re-run the query")
	}
	return nil
}

func liveRow(v result.View, index int) (result.Row, error) {
	if index < 0 || index >= len(v.Rows) {
		return result.Row{}, rderrors.New(rderrors.InvalidState, fmt.Sprintf("row %d is outside the window", index))
	}
	r := v.Rows[index]
	if r.Deleted {
		return result.Row{}, rderrors.New(rderrors.NotEditable, "row was deleted")
	}
	for _, c := range r.KeyValues(v.Identity.Key) {
		if c.IsNull() {
			return result.Row{}, rderrors.New(rderrors.NotEditable, "row has a NULL key value")
		}
	}
	return r, nil
}

// BeginEdit validates a proposed value for one cell and captures the key
// snapshot the write will target.
func (e *Engine) BeginEdit(row, col int, p Proposal) (*Intent, error) {
	v := e.buf.View()
	if err := editable(v); err != nil {
		return nil, err
	}
	r, err := liveRow(v, row)
	if err != nil {
		return nil, err
	}
	if col < 0 || col >= len(v.Columns) {
		return nil, rderrors.New(rderrors.InvalidState, fmt.Sprintf("column %d is outside the result", col))
	}
	column := v.Columns[col]
	if column.Relation != v.Identity.Relation {
		return nil, rderrors.New(rderrors.NotEditable, fmt.Sprintf("column %q is computed, not read from %s", column.Name, v.Identity.Relation))
	}

	in := &Intent{
		Handle:    v.Handle,
		Row:       row,
		Relation:  v.Identity.Relation,
		Key:       append([]int(nil), v.Identity.Key...),
		KeyValues: r.KeyValues(v.Identity.Key),
		Column:    col,
		Old:       r.Cells[col],
		columns:   v.Columns,
	}
	if p.Null {
		if !column.Nullable && !p.ConfirmNull {
			return nil, rderrors.New(rderrors.NotEditable, fmt.Sprintf("column %q is NOT NULL; confirm to write NULL anyway", column.Name))
		}
		if isKey(in.Key, col) {
			return nil, rderrors.New(rderrors.NotEditable, fmt.Sprintf("key column %q cannot be NULL", column.Name))
		}
		in.New = result.NullCell()
		return in, nil
	}
	in.New, in.param, err = Coerce(column.Type, p.Text)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// Commit writes the intent in its own transaction and reconciles the buffer
// with the row as the server now has it.
func (e *Engine) Commit(ctx context.Context, in *Intent) (result.Row, error) {
	if in == nil {
		return result.Row{}, rderrors.New(rderrors.InvalidState, "no edit in progress")
	}
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return result.Row{}, rderrors.Wrap(rderrors.Busy, "waiting for the session", err)
	}
	defer release()

	if e.buf.Handle() != in.Handle {
		return result.Row{}, rderrors.New(rderrors.InvalidState, "result set was replaced")
	}
	if n := len(e.buf.FindRows(in.Handle, in.Key, in.KeyValues)); n != 1 {
		return result.Row{}, rderrors.New(rderrors.WriteConflict, fmt.Sprintf("%d buffered rows match the edited key", n))
	}
	cols := in.columns
	beforeParams, err := keyParams(cols, in.Key, in.KeyValues)
	if err != nil {
		return result.Row{}, err
	}

	log := e.log.With("relation", in.Relation.String(), "column", cols[in.Column].SourceName(), "row", in.Row)
	tx, err := e.gate.Session().Begin(ctx)
	if err != nil {
		return result.Row{}, e.classify(log, "begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	stmt := updateStatement(in.Relation, cols, in.Key, in.Column)
	n, err := tx.Exec(ctx, stmt, append([]any{in.param}, beforeParams...)...)
	if err != nil {
		return result.Row{}, e.classify(log, "update", err)
	}
	if n != 1 {
		e.buf.MarkStale(in.Handle)
		log.Warn("writeback conflict", "affected", n)
		return result.Row{}, rderrors.New(rderrors.WriteConflict, fmt.Sprintf("update affected %d rows, expected 1", n))
	}

	// re-select by the key the row has now
	after := append([]result.Cell(nil), in.KeyValues...)
	for i, ord := range in.Key {
		if ord == in.Column {
			after[i] = in.New
		}
	}
	afterParams, err := keyParams(cols, in.Key, after)
	if err != nil {
		return result.Row{}, err
	}
	ords := relationColumns(cols, in.Relation)
	rows, err := tx.Query(ctx, selectStatement(in.Relation, cols, ords, in.Key), afterParams...)
	if err != nil {
		return result.Row{}, e.classify(log, "reselect", err)
	}
	if len(rows) != 1 {
		e.buf.MarkStale(in.Handle)
		return result.Row{}, rderrors.New(rderrors.WriteConflict, fmt.Sprintf("re-select returned %d rows, expected 1", len(rows)))
	}
	if err := tx.Commit(ctx); err != nil {
		return result.Row{}, e.classify(log, "commit", err)
	}

	matches := e.buf.FindRows(in.Handle, in.Key, in.KeyValues)
	if len(matches) != 1 {
		e.buf.MarkStale(in.Handle)
		return result.Row{}, rderrors.New(rderrors.Consistency, fmt.Sprintf("committed, but %d buffered rows match the edited key", len(matches)))
	}
	cur, _ := e.buf.Row(in.Handle, matches[0])
	cells := append([]result.Cell(nil), cur.Cells...)
	for i, ord := range ords {
		if i < len(rows[0]) {
			cells[ord] = rows[0][i]
		}
	}
	if err := e.buf.ReplaceRow(in.Handle, matches[0], cells); err != nil {
		return result.Row{}, rderrors.Wrap(rderrors.Consistency, "committed, but the buffer could not be updated", err)
	}
	log.Info("writeback committed")
	updated, _ := e.buf.Row(in.Handle, matches[0])
	return updated, nil
}

// DeleteRows deletes the server rows behind the given window rows in one
// transaction and tombstones them. It returns how many rows were deleted.
func (e *Engine) DeleteRows(ctx context.Context, rows []int) (int, error) {
	v := e.buf.View()
	if err := editable(v); err != nil {
		return 0, err
	}
	targets, err := liveRows(v, rows)
	if err != nil {
		return 0, err
	}
	id := v.Identity

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return 0, rderrors.Wrap(rderrors.Busy, "waiting for the session", err)
	}
	defer release()
	if e.buf.Handle() != v.Handle {
		return 0, rderrors.New(rderrors.InvalidState, "result set was replaced")
	}

	log := e.log.With("relation", id.Relation.String(), "rows", len(targets))
	tx, err := e.gate.Session().Begin(ctx)
	if err != nil {
		return 0, e.classify(log, "begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	stmt := deleteStatement(id.Relation, v.Columns, id.Key)
	for _, r := range targets {
		params, err := keyParams(v.Columns, id.Key, r.KeyValues(id.Key))
		if err != nil {
			return 0, err
		}
		n, err := tx.Exec(ctx, stmt, params...)
		if err != nil {
			return 0, e.classify(log, "delete", err)
		}
		if n != 1 {
			e.buf.MarkStale(v.Handle)
			log.Warn("writeback delete conflict", "row", r.Index, "affected", n)
			return 0, rderrors.New(rderrors.WriteConflict, fmt.Sprintf("delete of row %d affected %d rows, expected 1", r.Index+1, n))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, e.classify(log, "commit", err)
	}
	for _, r := range targets {
		if err := e.buf.MarkDeleted(v.Handle, r.Index); err != nil {
			return 0, rderrors.Wrap(rderrors.Consistency, "committed, but the buffer could not be updated", err)
		}
	}
	log.Info("writeback deleted rows")
	return len(targets), nil
}

// GenerateUpdate renders one UPDATE per row with the row's current values.
func (e *Engine) GenerateUpdate(rows []int) (string, error) {
	return e.generate(rows, generateUpdate)
}

// GenerateDelete renders one DELETE per row.
func (e *Engine) GenerateDelete(rows []int) (string, error) {
	return e.generate(rows, generateDelete)
}

// CopyAsInsert renders one INSERT per row.
func (e *Engine) CopyAsInsert(rows []int) (string, error) {
	return e.generate(rows, generateInsert)
}

func (e *Engine) generate(rows []int, render func(result.View, result.Row) string) (string, error) {
	v := e.buf.View()
	if v.Handle == 0 {
		return "", rderrors.New(rderrors.InvalidState, "no result set")
	}
	if !v.Identity.Editable() {
		return "", rderrors.New(rderrors.NotEditable, v.Identity.Reason)
	}
	targets, err := liveRows(v, rows)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range targets {
		b.WriteString(render(v, r))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func liveRows(v result.View, rows []int) ([]result.Row, error) {
	var out []result.Row
	for _, idx := range rows {
		if idx >= 0 && idx < len(v.Rows) && v.Rows[idx].Deleted {
			continue
		}
		r, err := liveRow(v, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, rderrors.New(rderrors.InvalidState, "no rows selected")
	}
	return out, nil
}

func keyParams(cols []result.Column, key []int, values []result.Cell) ([]any, error) {
	params := make([]any, len(key))
	for i, ord := range key {
		p, err := KeyParam(cols[ord], values[i])
		if err != nil {
			return nil, rderrors.Wrap(rderrors.TypeCoercion, "key column "+cols[ord].Name, err)
		}
		params[i] = p
	}
	return params, nil
}

// classify makes sure a session error carries a kind. Connection failures
// mark the session suspect.
func (e *Engine) classify(log pslog.Logger, step string, err error) error {
	kind := rderrors.KindOf(err)
	if kind == "" {
		kind = rderrors.ConstraintViolation
		err = rderrors.Wrap(kind, step+" failed", err)
	}
	if kind == rderrors.ConnectionError {
		e.gate.MarkSuspect()
	}
	log.Warn("writeback failed", "step", step, "kind", string(kind), "err", err)
	return err
}
