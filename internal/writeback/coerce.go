// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package writeback

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/result"
)

type category uint8

const (
	catText category = iota
	catInt
	catFloat
	catNumeric
	catBool
	catJSON
	catUUID
	catBytea
	catDate
	catTimestamp
	catArray
)

// categorize maps a type name, as reported by pgx or information_schema,
// to the coercion it needs.
func categorize(typ string) (category, int) {
	t := strings.ToLower(strings.TrimSpace(typ))
	t = strings.TrimPrefix(t, "pg_catalog.")
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if strings.HasPrefix(t, "_") || strings.HasSuffix(t, "[]") || t == "array" {
		return catArray, 0
	}
	switch t {
	case "int2", "smallint", "smallserial":
		return catInt, 16
	case "int4", "integer", "int", "serial":
		return catInt, 32
	case "int8", "bigint", "bigserial":
		return catInt, 64
	case "float4", "real":
		return catFloat, 32
	case "float8", "double precision":
		return catFloat, 64
	case "numeric", "decimal", "money":
		return catNumeric, 0
	case "bool", "boolean":
		return catBool, 0
	case "json", "jsonb":
		return catJSON, 0
	case "uuid":
		return catUUID, 0
	case "bytea":
		return catBytea, 0
	case "date":
		return catDate, 0
	case "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone":
		return catTimestamp, 0
	}
	return catText, 0
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	time.DateOnly,
}

// Coerce parses text for a column of the given type. It returns the cell the
// server is expected to store and the typed parameter to send.
func Coerce(typ, text string) (result.Cell, any, error) {
	cat, bits := categorize(typ)
	s := strings.TrimSpace(text)
	bad := func(format string, args ...any) (result.Cell, any, error) {
		return result.Cell{}, nil, rderrors.New(rderrors.TypeCoercion, fmt.Sprintf(format, args...))
	}
	switch cat {
	case catInt:
		n, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return bad("%q is not a valid %s", text, typ)
		}
		return result.IntCell(n), n, nil
	case catFloat:
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return bad("%q is not a valid %s", text, typ)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return result.NumberCell(s), f, nil
		}
		return result.NumberCell(strconv.FormatFloat(f, 'g', -1, bits)), f, nil
	case catNumeric:
		var n pgtype.Numeric
		if err := n.Scan(strings.TrimPrefix(s, "+")); err != nil || !n.Valid {
			return bad("%q is not a valid %s", text, typ)
		}
		return result.NumberCell(strings.TrimPrefix(s, "+")), n, nil
	case catBool:
		b, ok := parseBool(s)
		if !ok {
			return bad("%q is not a valid boolean", text)
		}
		return result.BoolCell(b), b, nil
	case catJSON:
		if !json.Valid([]byte(s)) {
			return bad("value is not valid JSON")
		}
		c := result.JSONCell([]byte(s))
		return c, c.Text, nil
	case catUUID:
		var u pgtype.UUID
		if err := u.Scan(s); err != nil || !u.Valid {
			return bad("%q is not a valid uuid", text)
		}
		return result.FromValue(u.Bytes), u, nil
	case catBytea:
		if !strings.HasPrefix(s, `\x`) {
			return bad(`bytea values must be written as \x followed by hex digits`)
		}
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return bad("%q is not valid hex", text)
		}
		return result.BinaryCell(b), b, nil
	case catDate:
		d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
		if err != nil {
			return bad("%q is not a date (YYYY-MM-DD)", text)
		}
		return result.FromValue(d), d, nil
	case catTimestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return result.FromValue(ts), ts, nil
			}
		}
		return bad("%q is not a timestamp (YYYY-MM-DD HH:MM:SS[+TZ])", text)
	case catArray:
		return bad("editing %s columns is not supported", typ)
	}
	return result.TextCell(text), text, nil
}

// KeyParam converts a buffered key cell into a typed parameter.
func KeyParam(col result.Column, c result.Cell) (any, error) {
	if c.IsNull() {
		return nil, nil
	}
	_, p, err := Coerce(col.Type, c.String())
	return p, err
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true", "y", "yes", "on", "1":
		return true, true
	case "f", "false", "n", "no", "off", "0":
		return false, true
	}
	return false, false
}
