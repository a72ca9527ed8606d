// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package tui

import (
	"fmt"
	"strconv"
	"strings"

	"rowdeck/cli/internal/export"
)

type commandKind int

const (
	cmdGenerate commandKind = iota + 1
	cmdExport
	cmdSearch
	cmdWidth
	cmdRefit
	cmdFetch
	cmdCancel
	cmdReconnect
	cmdHistory
	cmdHelp
	cmdQuit
)

// Generated statement flavours.
const (
	genUpdate = "update"
	genDelete = "delete"
	genInsert = "insert"
)

// command is one parsed command-line entry.
type command struct {
	kind    commandKind
	gen     string
	format  export.Format
	path    string
	pattern string
	n       int
}

// parseCommand parses the text typed after ':'.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "gen", "generate":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: gen update|delete|insert")
		}
		switch g := strings.ToLower(args[0]); g {
		case genUpdate, genDelete, genInsert:
			return command{kind: cmdGenerate, gen: g}, nil
		}
		return command{}, fmt.Errorf("unknown statement kind %q: use update, delete or insert", args[0])
	case "export", "w":
		return parseExport(args)
	case "search", "find":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: search <text>")
		}
		// Keep inner spacing of the pattern as typed.
		pattern := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return command{kind: cmdSearch, pattern: pattern}, nil
	case "width":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: width <columns>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return command{}, fmt.Errorf("width must be a positive number")
		}
		return command{kind: cmdWidth, n: n}, nil
	case "refit":
		return command{kind: cmdRefit}, nil
	case "fetch", "more":
		c := command{kind: cmdFetch}
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return command{}, fmt.Errorf("fetch count must be a positive number")
			}
			c.n = n
		}
		return c, nil
	case "cancel":
		return command{kind: cmdCancel}, nil
	case "reconnect":
		return command{kind: cmdReconnect}, nil
	case "history", "hist":
		pattern := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return command{kind: cmdHistory, pattern: pattern}, nil
	case "help", "h", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "q", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %q", fields[0])
}

// parseExport accepts "export <path>" with the format taken from the file
// extension, or "export <format> <path>".
func parseExport(args []string) (command, error) {
	switch len(args) {
	case 1:
		f, ok := export.FormatForPath(args[0])
		if !ok {
			return command{}, fmt.Errorf("cannot tell the format of %q: use export <format> <path>", args[0])
		}
		return command{kind: cmdExport, format: f, path: args[0]}, nil
	case 2:
		f, err := export.ParseFormat(args[0])
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdExport, format: f, path: args[1]}, nil
	}
	return command{}, fmt.Errorf("usage: export [csv|tsv|json|table] <path>")
}
