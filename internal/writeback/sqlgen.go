// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package writeback

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"rowdeck/cli/internal/result"
)

func quoteIdent(name string) string { return pgx.Identifier{name}.Sanitize() }

func quoteRelation(rel result.Relation) string {
	if rel.Schema == "" {
		return pgx.Identifier{rel.Name}.Sanitize()
	}
	return pgx.Identifier{rel.Schema, rel.Name}.Sanitize()
}

// literal renders a cell as SQL text for generated statements.
func literal(col result.Column, c result.Cell) string {
	switch c.Kind {
	case result.Null:
		return "NULL"
	case result.Bool:
		if c.Bool {
			return "TRUE"
		}
		return "FALSE"
	case result.Number:
		if cat, _ := categorize(col.Type); cat == catInt || cat == catFloat || cat == catNumeric {
			if strings.ContainsAny(c.Text, "NnIi") {
				return quoteString(c.Text)
			}
			return c.Text
		}
		return quoteString(c.Text)
	case result.Binary:
		return quoteString(c.String()) + "::bytea"
	case result.JSON:
		if cat, _ := categorize(col.Type); cat == catJSON {
			return quoteString(c.Text) + "::" + strings.ToLower(col.Type)
		}
		return quoteString(c.Text)
	}
	return quoteString(c.Text)
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// keyPredicate renders `"k1" = $n AND "k2" = $n+1` starting at placeholder first.
func keyPredicate(cols []result.Column, key []int, first int) string {
	parts := make([]string, len(key))
	for i, ord := range key {
		parts[i] = fmt.Sprintf("%s = $%d", quoteIdent(cols[ord].SourceName()), first+i)
	}
	return strings.Join(parts, " AND ")
}

func keyLiteralPredicate(cols []result.Column, key []int, cells []result.Cell) string {
	parts := make([]string, len(key))
	for i, ord := range key {
		name := quoteIdent(cols[ord].SourceName())
		if cells[ord].IsNull() {
			parts[i] = name + " IS NULL"
			continue
		}
		parts[i] = name + " = " + literal(cols[ord], cells[ord])
	}
	return strings.Join(parts, " AND ")
}

// relationColumns returns the ordinals of columns read from rel, first
// occurrence of each source column only.
func relationColumns(cols []result.Column, rel result.Relation) []int {
	seen := map[string]bool{}
	var out []int
	for i, c := range cols {
		if c.Relation != rel || seen[c.SourceName()] {
			continue
		}
		seen[c.SourceName()] = true
		out = append(out, i)
	}
	return out
}

func updateStatement(rel result.Relation, cols []result.Column, key []int, column int) string {
	return fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s",
		quoteRelation(rel), quoteIdent(cols[column].SourceName()), keyPredicate(cols, key, 2))
}

func selectStatement(rel result.Relation, cols []result.Column, ords, key []int) string {
	names := make([]string, len(ords))
	for i, ord := range ords {
		names[i] = quoteIdent(cols[ord].SourceName())
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(names, ", "), quoteRelation(rel), keyPredicate(cols, key, 1))
}

func deleteStatement(rel result.Relation, cols []result.Column, key []int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteRelation(rel), keyPredicate(cols, key, 1))
}

func isKey(key []int, ord int) bool {
	for _, k := range key {
		if k == ord {
			return true
		}
	}
	return false
}

func generateUpdate(v result.View, row result.Row) string {
	id := v.Identity
	var sets []string
	ords := relationColumns(v.Columns, id.Relation)
	for _, ord := range ords {
		if isKey(id.Key, ord) {
			continue
		}
		sets = append(sets, quoteIdent(v.Columns[ord].SourceName())+" = "+literal(v.Columns[ord], row.Cells[ord]))
	}
	if len(sets) == 0 {
		for _, ord := range id.Key {
			sets = append(sets, quoteIdent(v.Columns[ord].SourceName())+" = "+literal(v.Columns[ord], row.Cells[ord]))
		}
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s;",
		quoteRelation(id.Relation), strings.Join(sets, ", "), keyLiteralPredicate(v.Columns, id.Key, row.Cells))
}

func generateDelete(v result.View, row result.Row) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s;",
		quoteRelation(v.Identity.Relation), keyLiteralPredicate(v.Columns, v.Identity.Key, row.Cells))
}

func generateInsert(v result.View, row result.Row) string {
	ords := relationColumns(v.Columns, v.Identity.Relation)
	names := make([]string, len(ords))
	values := make([]string, len(ords))
	for i, ord := range ords {
		names[i] = quoteIdent(v.Columns[ord].SourceName())
		values[i] = literal(v.Columns[ord], row.Cells[ord])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		quoteRelation(v.Identity.Relation), strings.Join(names, ", "), strings.Join(values, ", "))
}
