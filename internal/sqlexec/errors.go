// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	rderrors "rowdeck/cli/internal/errors"
)

// SQLSTATE values with special handling.
const (
	codeQueryCanceled = "57014"
	classIntegrity    = "23"
	classConnection   = "08"
)

// classify tags driver errors with a kind. Integrity violations become
// ConstraintViolation; anything that leaves the connection unusable becomes
// ConnectionError. Cancellation acknowledgements and other server errors
// pass through untouched so callers can still inspect the PgError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if rderrors.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeQueryCanceled:
			return err
		case strings.HasPrefix(pgErr.Code, classIntegrity):
			return rderrors.Wrap(rderrors.ConstraintViolation, constraintMessage(pgErr), err)
		case strings.HasPrefix(pgErr.Code, classConnection), pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return rderrors.Wrap(rderrors.ConnectionError, "server closed the session", err)
		}
		return err
	}

	var netErr net.Error
	switch {
	case pgconn.Timeout(err):
		return rderrors.Wrap(rderrors.ConnectionError, "connection timed out", err)
	case pgconn.SafeToRetry(err):
		return rderrors.Wrap(rderrors.ConnectionError, "connection failed before the statement was sent", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return rderrors.Wrap(rderrors.ConnectionError, "connection lost", err)
	case errors.As(err, &netErr):
		return rderrors.Wrap(rderrors.ConnectionError, "network error", err)
	case strings.Contains(err.Error(), "conn closed"), strings.Contains(err.Error(), "conn busy"):
		return rderrors.Wrap(rderrors.ConnectionError, "connection unusable", err)
	}
	return err
}

// IsCancelAck reports whether err is the server acknowledging a cancel.
func IsCancelAck(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeQueryCanceled
}

func constraintMessage(e *pgconn.PgError) string {
	if e.ConstraintName != "" {
		return "violates " + e.ConstraintName
	}
	return e.Message
}
