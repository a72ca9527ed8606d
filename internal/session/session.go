// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package session defines the capability the grid engine borrows from a live
// database connection. The execution controller and the write-back engine
// receive a Session explicitly; nothing in the engine reaches for a global.
package session

import (
	"context"

	"rowdeck/cli/internal/result"
)

// Session executes statements, reports relation metadata and opens transactions.
type Session interface {
	// Execute starts a statement and returns its row stream. Rows are
	// pulled with Stream.Next; the statement stays in flight until the
	// stream completes or is closed.
	Execute(ctx context.Context, sql string, params ...any) (Stream, error)
	// Metadata describes a relation's columns and keys.
	Metadata(ctx context.Context, rel result.Relation) (RelationMeta, error)
	// Begin opens an explicit transaction for write-back.
	Begin(ctx context.Context) (Tx, error)
}

// Stream is the handle of an in-flight statement.
type Stream interface {
	Columns() []result.Column
	// Next returns up to max rows. done reports that the server finished
	// the statement; it may accompany a final non-empty batch.
	Next(ctx context.Context, max int) (rows [][]result.Cell, done bool, err error)
	// Cancel asks the server to abandon the statement. Acknowledgement
	// arrives later as an error or completion from Next.
	Cancel(ctx context.Context) error
	// Tag is the command tag once done, e.g. "SELECT 20".
	Tag() string
	Close() error
}

// Tx is an explicit write transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, params ...any) (int64, error)
	Query(ctx context.Context, sql string, params ...any) ([][]result.Cell, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ColumnMeta describes one relation column.
type ColumnMeta struct {
	Name     string
	Type     string
	Nullable bool
}

// RelationMeta is the schema metadata the identity resolver consults.
type RelationMeta struct {
	Relation   result.Relation
	Columns    []ColumnMeta
	PrimaryKey []string
	Unique     [][]string
}

// Column returns the named column's metadata.
func (m RelationMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}
