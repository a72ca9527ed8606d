// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"rowdeck/cli/internal/result"
)

// txn adapts pgx.Tx to session.Tx.
type txn struct {
	tx pgx.Tx
}

func (t *txn) Exec(ctx context.Context, sql string, params ...any) (int64, error) {
	ct, err := t.tx.Exec(ctx, sql, params...)
	if err != nil {
		return 0, classify(err)
	}
	return ct.RowsAffected(), nil
}

func (t *txn) Query(ctx context.Context, sql string, params ...any) ([][]result.Cell, error) {
	rows, err := t.tx.Query(ctx, sql, params...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	fds := rows.FieldDescriptions()
	var out [][]result.Cell
	for rows.Next() {
		cells, err := cellsFrom(rows, fds)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, cells)
	}
	return out, classify(rows.Err())
}

func (t *txn) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

// Rollback is safe after Commit.
func (t *txn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return classify(err)
}
