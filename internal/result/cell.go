// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package result holds the dynamic shape of a query result: tagged cells,
// column descriptors looked up by ordinal, and the bounded Buffer that owns
// the row window for the current result set.
package result

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant stored in a Cell.
type Kind uint8

const (
	Null Kind = iota
	Text
	Number
	Bool
	Binary
	JSON
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Text:
		return "text"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Binary:
		return "binary"
	case JSON:
		return "json"
	}
	return "unknown"
}

// Cell is an immutable typed value. Text carries the payload for Text,
// Number (exact server text) and JSON (compact canonical text).
type Cell struct {
	Kind  Kind
	Text  string
	Bool  bool
	Bytes []byte
}

func NullCell() Cell             { return Cell{Kind: Null} }
func TextCell(s string) Cell     { return Cell{Kind: Text, Text: s} }
func NumberCell(s string) Cell   { return Cell{Kind: Number, Text: s} }
func BoolCell(b bool) Cell       { return Cell{Kind: Bool, Bool: b} }
func BinaryCell(b []byte) Cell   { return Cell{Kind: Binary, Bytes: b} }
func IntCell(n int64) Cell       { return NumberCell(strconv.FormatInt(n, 10)) }
func JSONCell(raw []byte) Cell   { return Cell{Kind: JSON, Text: compactJSON(raw)} }
func (c Cell) IsNull() bool      { return c.Kind == Null }
func (c Cell) Equal(o Cell) bool { return c.Kind == o.Kind && c.String() == o.String() }

// Display renders the cell for the grid, substituting null for SQL NULL.
func (c Cell) Display(null string) string {
	if c.Kind == Null {
		return null
	}
	return c.String()
}

// String renders the canonical text form. Null renders as the empty string.
func (c Cell) String() string {
	switch c.Kind {
	case Null:
		return ""
	case Bool:
		if c.Bool {
			return "true"
		}
		return "false"
	case Binary:
		return `\x` + hex.EncodeToString(c.Bytes)
	default:
		return c.Text
	}
}

// Value returns the driver parameter for the cell: nil, string, bool or []byte.
// Numbers and JSON travel in text form so the server applies the column type.
func (c Cell) Value() any {
	switch c.Kind {
	case Null:
		return nil
	case Bool:
		return c.Bool
	case Binary:
		return c.Bytes
	default:
		return c.Text
	}
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// FromValue converts a decoded driver value into a Cell.
func FromValue(v any) Cell {
	switch x := v.(type) {
	case nil:
		return NullCell()
	case Cell:
		return x
	case string:
		return TextCell(x)
	case bool:
		return BoolCell(x)
	case int:
		return IntCell(int64(x))
	case int8:
		return IntCell(int64(x))
	case int16:
		return IntCell(int64(x))
	case int32:
		return IntCell(int64(x))
	case int64:
		return IntCell(x)
	case uint8:
		return NumberCell(strconv.FormatUint(uint64(x), 10))
	case uint16:
		return NumberCell(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return NumberCell(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return NumberCell(strconv.FormatUint(x, 10))
	case float32:
		return NumberCell(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case float64:
		return NumberCell(strconv.FormatFloat(x, 'g', -1, 64))
	case *big.Int:
		if x == nil {
			return NullCell()
		}
		return NumberCell(x.String())
	case []byte:
		return BinaryCell(append([]byte(nil), x...))
	case [16]byte:
		return TextCell(formatUUID(x[:]))
	case json.RawMessage:
		return JSONCell(x)
	case time.Time:
		return TextCell(formatTime(x))
	case time.Duration:
		return TextCell(x.String())
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err != nil {
			return TextCell(fmt.Sprint(x))
		}
		return JSONCell(raw)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return TextCell(fmt.Sprint(x))
		}
		return FromValue(dv)
	case fmt.Stringer:
		return TextCell(x.String())
	default:
		return TextCell(fmt.Sprint(x))
	}
}

func formatUUID(v []byte) string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7],
		v[8], v[9], v[10], v[11], v[12], v[13], v[14], v[15])
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
		return t.Format(time.DateOnly)
	}
	return strings.TrimSuffix(t.Format("2006-01-02 15:04:05.999999Z07:00"), "Z")
}
