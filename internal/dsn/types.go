// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import "fmt"

// Info is a parsed PostgreSQL connection string.
type Info struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Params   map[string]string
	// Original is the input as given, before normalization.
	Original string
}

// ParseError reports a connection string that cannot be used.
type ParseError struct {
	DSN    string
	Reason string
	Hint   string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid DSN: %s\nHint: %s", e.Reason, e.Hint)
	}
	return fmt.Sprintf("invalid DSN: %s", e.Reason)
}

func newParseError(dsn, reason, hint string) *ParseError {
	return &ParseError{DSN: dsn, Reason: reason, Hint: hint}
}
