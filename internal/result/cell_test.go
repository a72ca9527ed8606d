// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package result

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromValue(t *testing.T) {
	uuid := [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	tests := []struct {
		name string
		in   any
		kind Kind
		text string
	}{
		{"nil", nil, Null, ""},
		{"string", "hello", Text, "hello"},
		{"int32", int32(-4), Number, "-4"},
		{"float", 1.5, Number, "1.5"},
		{"big", big.NewInt(1 << 40), Number, "1099511627776"},
		{"bool", true, Bool, "true"},
		{"bytes", []byte{0xde, 0xad}, Binary, `\xdead`},
		{"uuid", uuid, Text, "00112233-4455-6677-8899-aabbccddeeff"},
		{"json map", map[string]any{"b": 1, "a": []any{true}}, JSON, `{"a":[true],"b":1}`},
		{"raw json", json.RawMessage(`{ "x" : 1 }`), JSON, `{"x":1}`},
		{"date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Text, "2024-03-01"},
		{"timestamp", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), Text, "2024-03-01 12:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromValue(tt.in)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.text, c.String())
		})
	}
}

func TestDisplayUsesNullText(t *testing.T) {
	assert.Equal(t, "NULL", NullCell().Display("NULL"))
	assert.Equal(t, "", TextCell("").Display("NULL"))
	assert.False(t, NullCell().Equal(TextCell("")))
	assert.True(t, IntCell(7).Equal(NumberCell("7")))
}
