// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlexec implements session.Session over a pgx connection pool.
//
// Each statement runs on its own pooled connection and streams rows as the
// caller pulls them, so a result that is not fully read holds the server
// cursor open without buffering. Catalog lookups for identity resolution use
// a different pooled connection. Cancellation sends a protocol cancel request
// and leaves the connection usable.
package sqlexec

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"pkt.systems/pslog"

	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// ApplicationName is reported to the server as application_name.
const ApplicationName = "rowdeck"

// MaxConns bounds the pool: one streaming statement, one catalog lookup and
// one write-back transaction at a time, plus a spare.
const MaxConns = 4

// Session is a live database session.
type Session struct {
	pool      *pgxpool.Pool
	inspector *Inspector
	log       pslog.Logger
}

var _ session.Session = (*Session)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, log pslog.Logger) (*Session, error) {
	if log == nil {
		log = logging.Discard()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	cfg.MaxConns = MaxConns
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 10 * time.Minute
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}
	// Context cancellation sends a cancel request instead of tearing down
	// the socket; the deadline only applies if the server ignores it.
	cfg.ConnConfig.BuildContextWatcherHandler = func(pc *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{Conn: pc, DeadlineDelay: 5 * time.Second}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	log.Info("session connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database, "user", cfg.ConnConfig.User)
	return &Session{pool: pool, inspector: NewInspector(pool), log: log.With("component", "sqlexec")}, nil
}

// Close closes every pooled connection.
func (s *Session) Close() {
	s.pool.Close()
}

// Inspector exposes the metadata cache.
func (s *Session) Inspector() *Inspector { return s.inspector }

// Ping checks that the server answers.
func (s *Session) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// Execute starts sql on a dedicated connection and returns its stream. The
// row description is read before Execute returns, so Columns is available
// immediately; rows are read by Stream.Next.
func (s *Session) Execute(ctx context.Context, sql string, params ...any) (session.Stream, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	s.log.Debug("execute", "sql", logging.Truncate(logging.Mask(sql), 200), "params", len(params))
	rows, err := conn.Query(ctx, sql, params...)
	if err != nil {
		conn.Release()
		return nil, classify(err)
	}
	fds := rows.FieldDescriptions()
	tm := conn.Conn().TypeMap()

	names, err := s.inspector.typeNames(ctx, unknownTypes(fds, tm))
	if err != nil {
		s.log.Debug("type name lookup failed", "err", err)
	}
	cols, keys := columnsFrom(fds, tm, names)
	if err := s.inspector.annotate(ctx, cols, keys); err != nil {
		// Without provenance identity falls back to parsing the statement.
		s.log.Debug("column provenance lookup failed", "err", err)
	}
	return &stream{conn: conn, rows: rows, fds: fds, cols: cols, log: s.log}, nil
}

// Metadata describes rel from the catalog, cached per relation.
func (s *Session) Metadata(ctx context.Context, rel result.Relation) (session.RelationMeta, error) {
	return s.inspector.Relation(ctx, rel)
}

// Begin opens a write transaction on a pooled connection.
func (s *Session) Begin(ctx context.Context) (session.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &txn{tx: tx}, nil
}

// ServerInfo is what dbinfo prints about the server.
type ServerInfo struct {
	Version  string
	Database string
	User     string
	Schema   string
}

// ServerInfo reads version and identity of the connected server.
func (s *Session) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var si ServerInfo
	err := s.pool.QueryRow(ctx, `SELECT version(), current_database(), current_user, coalesce(current_schema(), '')`).
		Scan(&si.Version, &si.Database, &si.User, &si.Schema)
	return si, classify(err)
}
