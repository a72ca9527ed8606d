// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"rowdeck/cli/internal/result"
)

// jsonbVersion prefixes binary jsonb values.
const jsonbVersion = 1

// cellsFrom converts the current row. JSON columns are taken from the wire
// so key order and number formatting survive.
func cellsFrom(rows pgx.Rows, fds []pgconn.FieldDescription) ([]result.Cell, error) {
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	raw := rows.RawValues()
	cells := make([]result.Cell, len(vals))
	for i, v := range vals {
		if i < len(fds) && i < len(raw) && raw[i] != nil {
			if c, ok := jsonCell(fds[i], raw[i]); ok {
				cells[i] = c
				continue
			}
		}
		cells[i] = result.FromValue(v)
	}
	return cells, nil
}

func jsonCell(fd pgconn.FieldDescription, raw []byte) (result.Cell, bool) {
	switch fd.DataTypeOID {
	case pgtype.JSONOID:
		return result.JSONCell(raw), true
	case pgtype.JSONBOID:
		if fd.Format == pgtype.BinaryFormatCode && len(raw) > 0 && raw[0] == jsonbVersion {
			raw = raw[1:]
		}
		return result.JSONCell(raw), true
	}
	return result.Cell{}, false
}

// columnsFrom builds result columns from a row description. Type names come
// from the connection's type map, falling back to names.
func columnsFrom(fds []pgconn.FieldDescription, tm *pgtype.Map, names map[uint32]string) ([]result.Column, []attrKey) {
	cols := make([]result.Column, len(fds))
	keys := make([]attrKey, len(fds))
	for i, fd := range fds {
		cols[i] = result.Column{Name: fd.Name, Ordinal: i, Nullable: true, Type: typeName(fd.DataTypeOID, tm, names)}
		keys[i] = attrKey{table: fd.TableOID, num: fd.TableAttributeNumber}
	}
	return cols, keys
}

func typeName(oid uint32, tm *pgtype.Map, names map[uint32]string) string {
	if n, ok := names[oid]; ok {
		return n
	}
	if tm != nil {
		if t, ok := tm.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return "unknown"
}

// unknownTypes lists OIDs the type map cannot name.
func unknownTypes(fds []pgconn.FieldDescription, tm *pgtype.Map) []uint32 {
	var out []uint32
	seen := map[uint32]bool{}
	for _, fd := range fds {
		if seen[fd.DataTypeOID] {
			continue
		}
		seen[fd.DataTypeOID] = true
		if _, ok := tm.TypeForOID(fd.DataTypeOID); !ok {
			out = append(out, fd.DataTypeOID)
		}
	}
	return out
}
