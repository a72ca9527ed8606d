// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package result

import (
	"strings"
	"unicode"
)

// Relation names a server-side table. Schema may be empty when unknown.
type Relation struct {
	Schema string
	Name   string
}

// ParseRelation splits "schema.table" and strips identifier quotes.
// An unqualified name defaults to the public schema.
func ParseRelation(s string) Relation {
	parts := splitQualified(strings.TrimSpace(s))
	switch len(parts) {
	case 0:
		return Relation{}
	case 1:
		return Relation{Schema: "public", Name: parts[0]}
	default:
		return Relation{Schema: parts[len(parts)-2], Name: parts[len(parts)-1]}
	}
}

func splitQualified(s string) []string {
	var (
		parts  []string
		cur    strings.Builder
		quoted bool
	)
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '"' && quoted && i+1 < len(rs) && rs[i+1] == '"':
			cur.WriteRune('"')
			i++
		case ch == '"':
			quoted = !quoted
		case ch == '.' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		case quoted:
			cur.WriteRune(ch)
		default:
			cur.WriteRune(unicode.ToLower(ch))
		}
	}
	if cur.Len() > 0 || len(parts) > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func (r Relation) IsZero() bool { return r.Name == "" }

func (r Relation) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// Column describes one result column. Relation and Base carry provenance when
// the session can report it; computed columns leave Relation zero.
type Column struct {
	Name     string
	Type     string
	Ordinal  int
	Nullable bool
	Identity bool
	Relation Relation
	Base     string
}

// SourceName is the column name inside its relation.
func (c Column) SourceName() string {
	if c.Base != "" {
		return c.Base
	}
	return c.Name
}

// IdentityState is the per-result-set resolution state machine.
type IdentityState uint8

const (
	Unresolved IdentityState = iota
	Resolved
	Unavailable
)

func (s IdentityState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Unavailable:
		return "unavailable"
	}
	return "unresolved"
}

// Identity is the resolved row identity for a result set.
type Identity struct {
	State    IdentityState
	Relation Relation
	// Key holds the ordinals of the key columns within the result.
	Key    []int
	Source string
	Reason string
}

// Editable reports whether edits and row actions are allowed.
func (id Identity) Editable() bool {
	return id.State == Resolved && len(id.Key) > 0
}

// Row is one buffered row. Cells are never mutated; reconciliation swaps
// the whole slice.
type Row struct {
	Index   int
	Cells   []Cell
	Deleted bool
}

// KeyValues extracts the cells at the given ordinals.
func (r Row) KeyValues(key []int) []Cell {
	out := make([]Cell, len(key))
	for i, ord := range key {
		if ord < len(r.Cells) {
			out[i] = r.Cells[ord]
		}
	}
	return out
}
