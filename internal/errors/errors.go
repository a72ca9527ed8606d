// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with categories for user-friendly reporting.
// Every failure the grid engine surfaces to the shell carries a machine-readable
// Kind so the status line can decide between "fix your input", "re-run the query"
// and "reconnect" without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// NotEditable indicates an edit or row action on a result set without a resolved identity key.
	NotEditable Kind = "not_editable"
	// TypeCoercion indicates a proposed value that does not fit the column's declared type.
	TypeCoercion Kind = "type_coercion"
	// WriteConflict indicates the targeted row no longer uniquely exists as expected.
	WriteConflict Kind = "write_conflict"
	// ConstraintViolation indicates the server rejected a generated statement.
	ConstraintViolation Kind = "constraint_violation"
	// ConnectionError indicates a session-level failure; the session must be reconnected.
	ConnectionError Kind = "connection_error"
	// Busy indicates the session is held by another operation.
	Busy Kind = "busy"
	// InvalidState indicates an operation that is not valid in the current state.
	InvalidState Kind = "invalid_state"
	// Consistency indicates buffer reconciliation could not find exactly one row.
	Consistency Kind = "consistency"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
