// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package export writes the buffered window of a result set in a portable
// format. Only buffered rows are written; tombstoned rows are skipped.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"rowdeck/cli/internal/result"
)

type Format string

const (
	CSV   Format = "csv"
	TSV   Format = "tsv"
	JSON  Format = "json"
	Table Format = "table"
)

// Formats lists the supported formats in display order.
var Formats = []Format{CSV, TSV, JSON, Table}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q (want csv, tsv, json or table)", s)
}

// FormatForPath guesses a format from a file extension.
func FormatForPath(path string) (Format, bool) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return "", false
	}
	f, err := ParseFormat(path[i+1:])
	if err != nil {
		if strings.EqualFold(path[i+1:], "txt") {
			return Table, true
		}
		return "", false
	}
	return f, true
}

type Options struct {
	Format Format
	// NullText renders SQL NULL in csv, tsv and table output.
	NullText string
	// NoHeader omits the header line in csv and tsv output.
	NoHeader bool
}

// Write renders v to w and returns the number of rows written.
func Write(w io.Writer, v result.View, opts Options) (int, error) {
	rows := live(v)
	switch opts.Format {
	case CSV, TSV, "":
		return len(rows), writeDelimited(w, v.Columns, rows, opts)
	case JSON:
		return len(rows), writeJSON(w, v.Columns, rows)
	case Table:
		return len(rows), writeTable(w, v.Columns, rows, opts)
	}
	return 0, fmt.Errorf("unknown export format %q", opts.Format)
}

// WriteFile writes v to path, replacing any existing file.
func WriteFile(path string, v result.View, opts Options) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := Write(f, v, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}

func live(v result.View) []result.Row {
	out := make([]result.Row, 0, len(v.Rows))
	for _, r := range v.Rows {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

func names(cols []result.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func texts(r result.Row, null string) []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Display(null)
	}
	return out
}

func writeDelimited(w io.Writer, cols []result.Column, rows []result.Row, opts Options) error {
	cw := csv.NewWriter(w)
	if opts.Format == TSV {
		cw.Comma = '\t'
	}
	if !opts.NoHeader {
		if err := cw.Write(names(cols)); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := cw.Write(texts(r, opts.NullText)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSON emits an array of objects with keys in column order. JSON cells
// are embedded as JSON, numbers as numbers where they are valid JSON.
func writeJSON(w io.Writer, cols []result.Column, rows []result.Row) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, c := range r.Cells {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(cols[j].Name)
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(jsonValue(c))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

func jsonValue(c result.Cell) []byte {
	switch c.Kind {
	case result.Null:
		return []byte("null")
	case result.Bool:
		if c.Bool {
			return []byte("true")
		}
		return []byte("false")
	case result.Number:
		var n json.Number
		if json.Unmarshal([]byte(c.Text), &n) == nil {
			return []byte(c.Text)
		}
	case result.JSON:
		if json.Valid([]byte(c.Text)) {
			return []byte(c.Text)
		}
	}
	s, _ := json.Marshal(c.String())
	return s
}

func writeTable(w io.Writer, cols []result.Column, rows []result.Row, opts Options) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(names(cols))
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	data := make([][]string, len(rows))
	for i, r := range rows {
		data[i] = texts(r, opts.NullText)
	}
	table.AppendBulk(data)
	table.Render()
	return nil
}
