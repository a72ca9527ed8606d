// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"rowdeck/cli/internal/export"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/status"
	"rowdeck/cli/internal/workspace"
	"rowdeck/cli/internal/xdg"
)

const (
	replPrompt     = "rowdeck> "
	replMorePrompt = "     ... "
	historyFile    = "history"
)

// replCmd is a line-oriented shell over the same engine as the grid.
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Line-oriented SQL shell",
	Long: `The repl command reads statements terminated by ';' and prints their rows as
aligned tables. Backslash commands:

  \more [n]                  fetch more rows of the last result
  \format csv|tsv|json|table change the output format
  \gen update|delete|insert  print statements for the rows of the last result
  \reconnect                 open a fresh session
  \q                         quit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := stderrLogger(ctx)
		ws, _, err := openWorkspace(ctx, log)
		if err != nil {
			return err
		}
		defer ws.Close()

		rc := &readline.Config{
			Prompt:          replPrompt,
			InterruptPrompt: "^C",
			EOFPrompt:       "\\q",
		}
		if dir, err := xdg.StateDir(); err == nil {
			rc.HistoryFile = filepath.Join(dir, historyFile)
		}
		rl, err := readline.NewEx(rc)
		if err != nil {
			return err
		}
		defer rl.Close()

		sh := &shell{ws: ws, out: rl.Stdout(), format: export.Table}
		return sh.loop(ctx, rl)
	},
}

type shell struct {
	ws     *workspace.Workspace
	out    io.Writer
	format export.Format
}

func (s *shell) loop(ctx context.Context, rl *readline.Instance) error {
	var pending strings.Builder
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			pending.Reset()
			rl.SetPrompt(replPrompt)
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 && strings.HasPrefix(trimmed, `\`) {
			if quit := s.meta(ctx, trimmed); quit {
				return nil
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		pending.WriteString(line)
		pending.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			rl.SetPrompt(replMorePrompt)
			continue
		}
		stmt := strings.TrimSpace(pending.String())
		pending.Reset()
		rl.SetPrompt(replPrompt)
		s.run(ctx, stmt)
	}
}

func (s *shell) run(ctx context.Context, stmt string) {
	st, err := s.ws.Run(ctx, stmt, 0)
	v := s.ws.Buffer.View()
	if err == nil && len(v.Columns) > 0 {
		if _, werr := export.Write(s.out, v, export.Options{Format: s.format, NullText: cfg.Grid.NullText}); werr != nil {
			err = werr
		}
	}
	fmt.Fprintln(s.out, status.Styled(st, status.Line(st, v, time.Now())))
	if err != nil {
		s.fail(err)
	}
}

// meta handles a backslash command and reports whether to quit.
func (s *shell) meta(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\q`, `\quit`:
		return true
	case `\format`:
		if len(fields) != 2 {
			s.fail(errors.New(`usage: \format csv|tsv|json|table`))
			return false
		}
		f, err := export.ParseFormat(fields[1])
		if err != nil {
			s.fail(err)
			return false
		}
		s.format = f
	case `\more`:
		n := cfg.Grid.FetchBatch
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v <= 0 {
				s.fail(errors.New(`usage: \more [rows]`))
				return false
			}
			n = v
		}
		s.more(ctx, n)
	case `\gen`:
		if len(fields) != 2 {
			s.fail(errors.New(`usage: \gen update|delete|insert`))
			return false
		}
		s.generate(fields[1])
	case `\reconnect`:
		if err := s.ws.Reconnect(ctx); err != nil {
			s.fail(err)
			return false
		}
		fmt.Fprintln(s.out, "reconnected")
	default:
		s.fail(fmt.Errorf("unknown command %s", fields[0]))
	}
	return false
}

// more extends the last result by n rows and prints only the new ones.
func (s *shell) more(ctx context.Context, n int) {
	before := s.ws.Buffer.Len()
	if err := s.ws.Buffer.FetchMore(n); err != nil {
		s.fail(err)
		return
	}
	st, err := s.ws.Await(ctx)
	if err == nil {
		err = st.Err
	}
	if err != nil {
		s.fail(err)
		return
	}
	v := s.ws.Buffer.View()
	tail := v
	tail.Rows = v.Rows[min(before, len(v.Rows)):]
	if _, err := export.Write(s.out, tail, export.Options{Format: s.format, NullText: cfg.Grid.NullText, NoHeader: true}); err != nil {
		s.fail(err)
	}
	fmt.Fprintln(s.out, status.Styled(st, status.Line(st, v, time.Now())))
}

func (s *shell) generate(kind string) {
	v := s.ws.Buffer.View()
	rows := make([]int, 0, len(v.Rows))
	for _, r := range v.Rows {
		if !r.Deleted {
			rows = append(rows, r.Index)
		}
	}
	var (
		sql string
		err error
	)
	switch strings.ToLower(kind) {
	case "update":
		sql, err = s.ws.Engine.GenerateUpdate(rows)
	case "delete":
		sql, err = s.ws.Engine.GenerateDelete(rows)
	case "insert":
		sql, err = s.ws.Engine.CopyAsInsert(rows)
	default:
		err = fmt.Errorf("unknown statement kind %q: use update, delete or insert", kind)
	}
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintln(s.out, sql)
}

func (s *shell) fail(err error) {
	fmt.Fprintln(s.out, pterm.FgRed.Sprint(logging.Mask(err.Error())))
	if h := logging.Hint(err); h != "" {
		fmt.Fprintln(s.out, pterm.FgYellow.Sprint("→ "+h))
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
}
