// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package writeback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/result"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ     string
		in      string
		kind    result.Kind
		display string
		wantErr bool
	}{
		{typ: "int4", in: "42", kind: result.Number, display: "42"},
		{typ: "integer", in: " -7 ", kind: result.Number, display: "-7"},
		{typ: "int2", in: "70000", wantErr: true},
		{typ: "int8", in: "12abc", wantErr: true},
		{typ: "float8", in: "1.50", kind: result.Number, display: "1.5"},
		{typ: "numeric", in: "12345678901234567890.000001", kind: result.Number, display: "12345678901234567890.000001"},
		{typ: "numeric(10,2)", in: "abc", wantErr: true},
		{typ: "bool", in: "yes", kind: result.Bool, display: "true"},
		{typ: "boolean", in: "F", kind: result.Bool, display: "false"},
		{typ: "jsonb", in: `{ "a" : [1, 2] }`, kind: result.JSON, display: `{"a":[1,2]}`},
		{typ: "json", in: `{"a":`, wantErr: true},
		{typ: "uuid", in: "6F9619FF-8B86-D011-B42D-00C04FC964FF", kind: result.Text, display: "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
		{typ: "uuid", in: "not-a-uuid", wantErr: true},
		{typ: "bytea", in: `\xdeadbeef`, kind: result.Binary, display: `\xdeadbeef`},
		{typ: "bytea", in: "deadbeef", wantErr: true},
		{typ: "date", in: "2024-02-29", kind: result.Text, display: "2024-02-29"},
		{typ: "date", in: "2023-02-29", wantErr: true},
		{typ: "timestamptz", in: "2024-01-02 03:04:05+02:00", kind: result.Text, display: "2024-01-02 03:04:05+02:00"},
		{typ: "timestamp", in: "2024-01-02T03:04:05", kind: result.Text, display: "2024-01-02 03:04:05"},
		{typ: "_int4", in: "{1,2}", wantErr: true},
		{typ: "character varying(20)", in: "  padded ", kind: result.Text, display: "  padded "},
		{typ: "citext", in: "Mixed", kind: result.Text, display: "Mixed"},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.in, func(t *testing.T) {
			cell, param, err := Coerce(tt.typ, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, rderrors.Is(err, rderrors.TypeCoercion))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, param)
			assert.Equal(t, tt.kind, cell.Kind)
			assert.Equal(t, tt.display, cell.String())
		})
	}
}

func TestKeyParamRoundTripsBufferedCells(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		col  result.Column
		cell result.Cell
		want any
	}{
		{col: result.Column{Type: "int8"}, cell: result.IntCell(99), want: int64(99)},
		{col: result.Column{Type: "text"}, cell: result.TextCell("k"), want: "k"},
		{col: result.Column{Type: "bool"}, cell: result.BoolCell(true), want: true},
		{col: result.Column{Type: "bytea"}, cell: result.BinaryCell([]byte{1, 2}), want: []byte{1, 2}},
		{col: result.Column{Type: "timestamp"}, cell: result.FromValue(ts), want: ts},
		{col: result.Column{Type: "int4"}, cell: result.NullCell(), want: nil},
	}
	for _, tt := range tests {
		got, err := KeyParam(tt.col, tt.cell)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
