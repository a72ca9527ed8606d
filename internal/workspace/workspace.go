// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package workspace wires a database session to the result buffer, the
// execution controller, identity resolution and write-back. The terminal UI,
// the one-shot query command and the REPL all drive a Workspace.
package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"rowdeck/cli/internal/config"
	"rowdeck/cli/internal/grid"
	"rowdeck/cli/internal/identity"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
	"rowdeck/cli/internal/sqlexec"
	"rowdeck/cli/internal/writeback"
)

// PollInterval is how often drivers without their own event loop drain
// controller events.
const PollInterval = 20 * time.Millisecond

// Connector opens a session. Tests substitute fakes.
type Connector func(ctx context.Context) (session.Session, error)

// Workspace owns one live session and everything layered on it.
type Workspace struct {
	Buffer     *result.Buffer
	Controller *query.Controller
	Engine     *writeback.Engine
	Resolver   *identity.Resolver

	cfg     config.Config
	log     pslog.Logger
	connect Connector

	mu   sync.Mutex
	sess session.Session
}

// Open connects to dsn and assembles a workspace.
func Open(ctx context.Context, dsn string, cfg config.Config, log pslog.Logger) (*Workspace, error) {
	if log == nil {
		log = logging.Discard()
	}
	connect := func(ctx context.Context) (session.Session, error) {
		return sqlexec.Connect(ctx, dsn, log)
	}
	return New(ctx, connect, cfg, log)
}

// New assembles a workspace over sessions produced by connect.
func New(ctx context.Context, connect Connector, cfg config.Config, log pslog.Logger) (*Workspace, error) {
	if log == nil {
		log = logging.Discard()
	}
	sess, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	w := &Workspace{
		Buffer:  result.NewBuffer(),
		cfg:     cfg,
		log:     log,
		connect: connect,
		sess:    sess,
	}
	w.Resolver = identity.NewResolver(liveMetadata{w}, cfg.Identity.OverrideMap(), log)
	w.Controller = query.New(sess, w.Buffer, query.Options{
		RowCap:        cfg.Grid.RowCap,
		BatchSize:     cfg.Execution.StreamBatch,
		CancelTimeout: cfg.Execution.CancelTimeout,
		Resolver:      w.Resolver,
		Logger:        log,
	})
	w.Engine = writeback.New(w.Controller, w.Buffer, log)
	return w, nil
}

// liveMetadata follows reconnects so the resolver always asks the current
// session.
type liveMetadata struct{ w *Workspace }

func (m liveMetadata) Metadata(ctx context.Context, rel result.Relation) (session.RelationMeta, error) {
	return m.w.Controller.Session().Metadata(ctx, rel)
}

// Session returns the current session.
func (w *Workspace) Session() session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

// Config returns the settings the workspace was built with.
func (w *Workspace) Config() config.Config { return w.cfg }

// GridOptions derives grid settings from the configuration.
func (w *Workspace) GridOptions() grid.Options {
	return grid.Options{
		FetchBatch: w.cfg.Grid.FetchBatch,
		MinWidth:   w.cfg.Grid.MinColumnWidth,
		MaxWidth:   w.cfg.Grid.MaxColumnWidth,
		NullText:   w.cfg.Grid.NullText,
		Logger:     w.log,
	}
}

// Reconnect opens a fresh session and swaps it in. The previous session is
// closed once the controller has let go of it.
func (w *Workspace) Reconnect(ctx context.Context) error {
	sess, err := w.connect(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	prev := w.sess
	w.sess = sess
	w.mu.Unlock()

	w.Controller.Reset(sess)
	closeSession(prev)
	w.log.Info("workspace reconnected")
	return nil
}

// Close stops the controller and closes the session.
func (w *Workspace) Close() {
	w.Controller.Close()
	closeSession(w.Session())
}

func closeSession(s session.Session) {
	if c, ok := s.(interface{ Close() }); ok {
		c.Close()
	}
}

// Run submits stmt and blocks until the request settles, extending the
// window while more rows are available until limit rows are held. A limit
// of zero stops at the first window.
func (w *Workspace) Run(ctx context.Context, stmt string, limit int, params ...any) (query.Status, error) {
	seq, err := w.Controller.Submit(stmt, params...)
	if err != nil {
		return query.Status{}, err
	}
	for {
		st, err := w.Await(ctx)
		if err != nil {
			return st, err
		}
		if st.Seq != seq {
			return st, fmt.Errorf("request %d was superseded", seq)
		}
		if st.State == query.Completed && st.Summary.Truncated && w.Buffer.Len() < limit {
			if err := w.Buffer.FetchMore(min(w.cfg.Grid.FetchBatch, limit-w.Buffer.Len())); err != nil {
				return st, err
			}
			continue
		}
		return st, st.Err
	}
}

// Await drains controller events until the active request settles. If ctx
// ends first the request is cancelled and its outcome awaited briefly.
func (w *Workspace) Await(ctx context.Context) (query.Status, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		for range w.Controller.PollEvents() {
		}
		st := w.Controller.State()
		if !st.State.Busy() {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			w.Controller.CancelActive()
			return w.drain(st.Seq), ctx.Err()
		}
	}
}

// drain polls until seq settles after a cancel, bounded by the cancel
// timeout.
func (w *Workspace) drain(seq uint64) query.Status {
	deadline := time.Now().Add(w.cfg.Execution.CancelTimeout + time.Second)
	for time.Now().Before(deadline) {
		for range w.Controller.PollEvents() {
		}
		if st := w.Controller.State(); st.Seq != seq || !st.State.Busy() {
			return st
		}
		time.Sleep(PollInterval)
	}
	return w.Controller.State()
}
