// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"pkt.systems/pslog"

	"rowdeck/cli/internal/result"
)

// closeCancelTimeout bounds the cancel request sent when an unfinished
// stream is closed.
const closeCancelTimeout = 2 * time.Second

// stream pulls rows from an open pgx.Rows on a connection it owns until
// Close. Next and Close run on the controller's task goroutine; Cancel may
// be called from anywhere.
type stream struct {
	conn *pgxpool.Conn
	rows pgx.Rows
	fds  []pgconn.FieldDescription
	cols []result.Column
	log  pslog.Logger

	mu     sync.Mutex
	done   bool
	closed bool
	tag    string
}

func (s *stream) Columns() []result.Column { return s.cols }

func (s *stream) Next(ctx context.Context, max int) ([][]result.Cell, bool, error) {
	if s.done {
		return nil, true, nil
	}
	var out [][]result.Cell
	for max <= 0 || len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, false, err
		}
		if !s.rows.Next() {
			s.finish()
			if err := s.rows.Err(); err != nil {
				return out, true, classify(err)
			}
			return out, true, nil
		}
		cells, err := cellsFrom(s.rows, s.fds)
		if err != nil {
			s.finish()
			return out, true, classify(err)
		}
		out = append(out, cells)
	}
	return out, false, nil
}

// finish records completion. Rows must be closed before the command tag is
// available.
func (s *stream) finish() {
	s.rows.Close()
	s.mu.Lock()
	s.done = true
	s.tag = s.rows.CommandTag().String()
	s.mu.Unlock()
}

func (s *stream) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.done || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.log.Debug("cancel request sent")
	return classify(s.conn.Conn().PgConn().CancelRequest(ctx))
}

func (s *stream) Tag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

// Close abandons an unfinished statement with a cancel request so closing
// the rows does not drain the remaining result, then returns the
// connection to the pool.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	if !done {
		ctx, cancel := context.WithTimeout(context.Background(), closeCancelTimeout)
		if err := s.conn.Conn().PgConn().CancelRequest(ctx); err != nil {
			s.log.Debug("cancel on close failed", "err", err)
		}
		cancel()
		s.rows.Close()
	}
	s.conn.Release()
	return nil
}
