// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rowdeck/cli/internal/export"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/status"
	"rowdeck/cli/internal/terminal"
)

var (
	queryFormat   string
	queryOutput   string
	queryLimit    int
	queryNoHeader bool
	queryQuiet    bool
)

// queryCmd runs one statement and writes the result window to stdout or a
// file.
var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run one statement and print or export its rows",
	Long: `The query command runs a single statement and writes its rows as csv, tsv,
json or an aligned table. The statement is read from the argument, or from
stdin when the argument is "-" or missing.

At most --limit rows are fetched; the status line on stderr says when more
rows were left on the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stmt, err := readStatement(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		format, err := outputFormat(queryFormat, queryOutput)
		if err != nil {
			return err
		}
		limit := queryLimit
		if limit <= 0 {
			limit = cfg.Grid.RowCap
		}
		if limit < cfg.Grid.RowCap {
			cfg.Grid.RowCap = limit
		}

		ctx := cmd.Context()
		log := stderrLogger(ctx)
		ws, _, err := openWorkspace(ctx, log)
		if err != nil {
			return err
		}
		defer ws.Close()

		var st query.Status
		err = withSpinner("running", func() error {
			st, err = ws.Run(ctx, stmt, limit)
			return err
		})
		v := ws.Buffer.View()
		if !queryQuiet {
			fmt.Fprintln(os.Stderr, status.Styled(st, status.Line(st, v, time.Now())))
		}
		if err != nil {
			return err
		}
		if st.State != query.Completed {
			return fmt.Errorf("query %s", st.State)
		}

		opts := export.Options{Format: format, NullText: cfg.Grid.NullText, NoHeader: queryNoHeader}
		if queryOutput != "" {
			n, err := export.WriteFile(queryOutput, v, opts)
			if err != nil {
				return err
			}
			log.Info("result exported", "path", queryOutput, "rows", n, "format", string(format))
			return nil
		}
		_, err = export.Write(cmd.OutOrStdout(), v, opts)
		return err
	},
}

// readStatement takes the SQL from the argument or stdin.
func readStatement(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if len(args) == 0 && terminal.IsInteractive() {
		return "", errors.New("no statement given: pass it as an argument or pipe it on stdin")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("empty statement on stdin")
	}
	return s, nil
}

// outputFormat picks the explicit format, else the output file extension,
// else an aligned table for terminals and csv for pipes.
func outputFormat(flag, path string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	if path != "" {
		if f, ok := export.FormatForPath(path); ok {
			return f, nil
		}
		return export.CSV, nil
	}
	if terminal.IsInteractive() {
		return export.Table, nil
	}
	return export.CSV, nil
}

func init() {
	rootCmd.AddCommand(queryCmd)
	f := queryCmd.Flags()
	f.StringVarP(&queryFormat, "format", "f", "", "output format: csv, tsv, json or table")
	f.StringVarP(&queryOutput, "output", "o", "", "write to a file instead of stdout")
	f.IntVarP(&queryLimit, "limit", "n", 0, "maximum rows to fetch (default grid.row_cap)")
	f.BoolVar(&queryNoHeader, "no-header", false, "omit the header row in csv and tsv output")
	f.BoolVarP(&queryQuiet, "quiet", "q", false, "do not print the status line")
}
