// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sessiontest provides an in-memory session.Session for tests.
//
// Statements registered with Script replay scripted rows and can block
// mid-stream to exercise cancellation. Everything else is served from
// in-memory tables, which understand the SELECT, UPDATE and DELETE shapes
// the write-back engine generates.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// ErrCanceled is what a cancelled scripted stream returns from Next.
var ErrCanceled = errors.New("canceling statement due to user request")

// Script describes a canned statement result.
type Script struct {
	Columns []result.Column
	Rows    [][]result.Cell
	// BlockAfter holds the stream after this many rows until Unblock or
	// Cancel. Negative never blocks.
	BlockAfter int
	// IgnoreCancel makes the stream deaf to Cancel, simulating a server
	// that never acknowledges.
	IgnoreCancel bool
	// Err fails Execute itself.
	Err error
	Tag string
}

// Table is an in-memory relation.
type Table struct {
	Meta session.RelationMeta
	Rows [][]result.Cell
	// Check rejects a row written by UPDATE.
	Check func(row []result.Cell) error
}

// Session is a fake session.Session.
type Session struct {
	mu      sync.Mutex
	tables  map[result.Relation]*Table
	scripts map[string]Script
	streams []*Stream
	stmts   []string
	failNxt error

	// NoProvenance hides relation provenance on table-served columns.
	NoProvenance bool
}

var _ session.Session = (*Session)(nil)

func New() *Session {
	return &Session{
		tables:  make(map[result.Relation]*Table),
		scripts: make(map[string]Script),
	}
}

// AddTable registers a relation and its rows.
func (s *Session) AddTable(meta session.RelationMeta, rows ...[]result.Cell) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Table{Meta: meta, Rows: rows}
	s.tables[meta.Relation] = t
	return t
}

// Script registers a canned result for an exact statement text.
func (s *Session) Script(sql string, sc Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sql] = sc
}

// FailNext makes the next Execute or transaction statement fail with err.
func (s *Session) FailNext(err error) {
	s.mu.Lock()
	s.failNxt = err
	s.mu.Unlock()
}

// Statements lists every statement seen, in order.
func (s *Session) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stmts...)
}

// Streams lists the streams handed out by Execute.
func (s *Session) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// TableRows returns a copy of a relation's committed rows.
func (s *Session) TableRows(rel result.Relation) [][]result.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[rel]
	if t == nil {
		return nil
	}
	return cloneRows(t.Rows)
}

// DeleteWhere removes committed rows whose column equals v, as a concurrent
// client would.
func (s *Session) DeleteWhere(rel result.Relation, column string, v result.Cell) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[rel]
	if t == nil {
		return 0
	}
	idx := columnIndex(t.Meta, column)
	kept := t.Rows[:0]
	n := 0
	for _, r := range t.Rows {
		if idx >= 0 && r[idx].String() == v.String() && !r[idx].IsNull() {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.Rows = kept
	return n
}

func (s *Session) record(sql string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stmts = append(s.stmts, sql)
	if err := s.failNxt; err != nil {
		s.failNxt = nil
		return err
	}
	return nil
}

func (s *Session) Execute(ctx context.Context, sql string, params ...any) (session.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.record(sql); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sc, scripted := s.scripts[sql]
	s.mu.Unlock()
	if scripted {
		if sc.Err != nil {
			return nil, sc.Err
		}
		st := newStream(sc.Columns, sc.Rows, sc.BlockAfter, sc.IgnoreCancel, sc.Tag)
		s.track(st)
		return st, nil
	}

	s.mu.Lock()
	cols, rows, err := s.selectLocked(s.tables, sql, params)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	st := newStream(cols, rows, -1, false, fmt.Sprintf("SELECT %d", len(rows)))
	s.track(st)
	return st, nil
}

func (s *Session) track(st *Stream) {
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
}

func (s *Session) Metadata(ctx context.Context, rel result.Relation) (session.RelationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[rel]
	if t == nil {
		return session.RelationMeta{}, fmt.Errorf("relation %s does not exist", rel)
	}
	return t.Meta, nil
}

func (s *Session) Begin(ctx context.Context) (session.Tx, error) {
	if err := s.record("BEGIN"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := make(map[result.Relation]*Table, len(s.tables))
	for rel, t := range s.tables {
		cp := *t
		cp.Rows = cloneRows(t.Rows)
		work[rel] = &cp
	}
	return &Tx{s: s, work: work}, nil
}

// Tx is a copy-on-begin transaction over the fake's tables.
type Tx struct {
	s    *Session
	work map[result.Relation]*Table
	done bool
}

func (tx *Tx) Exec(ctx context.Context, sql string, params ...any) (int64, error) {
	if err := tx.s.record(sql); err != nil {
		return 0, err
	}
	if m := updateRe.FindStringSubmatch(sql); m != nil {
		return tx.update(m, params)
	}
	if m := deleteRe.FindStringSubmatch(sql); m != nil {
		return tx.delete(m, params)
	}
	return 0, rderrors.New(rderrors.ConstraintViolation, "unsupported statement: "+sql)
}

func (tx *Tx) Query(ctx context.Context, sql string, params ...any) ([][]result.Cell, error) {
	if err := tx.s.record(sql); err != nil {
		return nil, err
	}
	_, rows, err := tx.s.selectLocked(tx.work, sql, params)
	return rows, err
}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	if err := tx.s.record("COMMIT"); err != nil {
		return err
	}
	tx.done = true
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for rel, t := range tx.work {
		if cur := tx.s.tables[rel]; cur != nil {
			cur.Rows = t.Rows
		}
	}
	return nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	_ = tx.s.record("ROLLBACK")
	return nil
}

var (
	selectRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\S+)(?:\s+WHERE\s+(.+?))?\s*;?\s*$`)
	updateRe = regexp.MustCompile(`(?is)^\s*UPDATE\s+(\S+)\s+SET\s+(.+?)\s+WHERE\s+(.+?)\s*;?\s*$`)
	deleteRe = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+(\S+)\s+WHERE\s+(.+?)\s*;?\s*$`)
	condRe   = regexp.MustCompile(`^\s*(\S+)\s*=\s*\$(\d+)\s*$`)
	andRe    = regexp.MustCompile(`(?i)\s+AND\s+`)
)

type cond struct {
	col int
	val any
}

func (s *Session) selectLocked(tables map[result.Relation]*Table, sql string, params []any) ([]result.Column, [][]result.Cell, error) {
	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, nil, fmt.Errorf("syntax error in %q", sql)
	}
	t, err := lookup(tables, m[2])
	if err != nil {
		return nil, nil, err
	}
	var idx []int
	if strings.TrimSpace(m[1]) == "*" {
		for i := range t.Meta.Columns {
			idx = append(idx, i)
		}
	} else {
		for _, name := range strings.Split(m[1], ",") {
			i := columnIndex(t.Meta, unquote(name))
			if i < 0 {
				return nil, nil, fmt.Errorf("column %s does not exist", strings.TrimSpace(name))
			}
			idx = append(idx, i)
		}
	}
	var conds []cond
	if m[3] != "" {
		if conds, err = parseConds(t.Meta, m[3], params); err != nil {
			return nil, nil, err
		}
	}
	cols := make([]result.Column, len(idx))
	for i, ci := range idx {
		cm := t.Meta.Columns[ci]
		cols[i] = result.Column{Name: cm.Name, Type: cm.Type, Ordinal: i, Nullable: true}
		if !s.NoProvenance {
			cols[i].Relation = t.Meta.Relation
			cols[i].Base = cm.Name
		}
	}
	var out [][]result.Cell
	for _, r := range t.Rows {
		if !matches(r, conds) {
			continue
		}
		row := make([]result.Cell, len(idx))
		for i, ci := range idx {
			row[i] = r[ci]
		}
		out = append(out, row)
	}
	return cols, out, nil
}

func (tx *Tx) update(m []string, params []any) (int64, error) {
	t, err := lookup(tx.work, m[1])
	if err != nil {
		return 0, err
	}
	sets, err := parseConds(t.Meta, strings.ReplaceAll(m[2], ",", " AND "), params)
	if err != nil {
		return 0, err
	}
	conds, err := parseConds(t.Meta, m[3], params)
	if err != nil {
		return 0, err
	}
	var n int64
	for i, r := range t.Rows {
		if !matches(r, conds) {
			continue
		}
		row := append([]result.Cell(nil), r...)
		for _, sv := range sets {
			row[sv.col] = cellFor(t.Meta.Columns[sv.col].Type, sv.val)
		}
		if t.Check != nil {
			if err := t.Check(row); err != nil {
				return 0, rderrors.Wrap(rderrors.ConstraintViolation, "update rejected", err)
			}
		}
		t.Rows[i] = row
		n++
	}
	return n, nil
}

func (tx *Tx) delete(m []string, params []any) (int64, error) {
	t, err := lookup(tx.work, m[1])
	if err != nil {
		return 0, err
	}
	conds, err := parseConds(t.Meta, m[2], params)
	if err != nil {
		return 0, err
	}
	kept := make([][]result.Cell, 0, len(t.Rows))
	var n int64
	for _, r := range t.Rows {
		if matches(r, conds) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.Rows = kept
	return n, nil
}

func lookup(tables map[result.Relation]*Table, name string) (*Table, error) {
	rel := result.ParseRelation(name)
	t := tables[rel]
	if t == nil {
		return nil, fmt.Errorf("relation %s does not exist", rel)
	}
	return t, nil
}

func parseConds(meta session.RelationMeta, clause string, params []any) ([]cond, error) {
	var out []cond
	for _, part := range andRe.Split(clause, -1) {
		m := condRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("unsupported condition %q", part)
		}
		col := columnIndex(meta, unquote(m[1]))
		if col < 0 {
			return nil, fmt.Errorf("column %s does not exist", m[1])
		}
		n, _ := strconv.Atoi(m[2])
		if n < 1 || n > len(params) {
			return nil, fmt.Errorf("missing parameter $%d", n)
		}
		out = append(out, cond{col: col, val: params[n-1]})
	}
	return out, nil
}

func matches(row []result.Cell, conds []cond) bool {
	for _, c := range conds {
		cell := row[c.col]
		if c.val == nil || cell.IsNull() {
			return false
		}
		if cell.String() != result.FromValue(c.val).String() {
			return false
		}
	}
	return true
}

func cellFor(typ string, v any) result.Cell {
	if v == nil {
		return result.NullCell()
	}
	c := result.FromValue(v)
	switch {
	case strings.HasPrefix(typ, "int"), typ == "numeric", strings.HasPrefix(typ, "float"):
		return result.NumberCell(c.String())
	case typ == "bool":
		b, _ := strconv.ParseBool(c.String())
		return result.BoolCell(b)
	case strings.HasPrefix(typ, "json"):
		return result.JSONCell([]byte(c.String()))
	}
	return c
}

func columnIndex(meta session.RelationMeta, name string) int {
	for i, c := range meta.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func cloneRows(rows [][]result.Cell) [][]result.Cell {
	out := make([][]result.Cell, len(rows))
	copy(out, rows)
	return out
}
