// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"rowdeck/cli/internal/sqlexec"
)

var dbinfoOffline bool

// dbinfoCmd shows which database the current settings point at, with the
// password masked.
var dbinfoCmd = &cobra.Command{
	Use:   "dbinfo",
	Short: "Show the current database connection",
	Long: `The dbinfo command shows the connection string rowdeck would use, where it
came from, and what the server reports about itself. The password is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, err := resolveDSN()
		if err != nil {
			pterm.Println("⚠️  No database connection configured")
			return err
		}

		lines := []string{
			"DSN:     " + maskDSN(resolved.DSN),
			fmt.Sprintf("Source:  %s (%s)", resolved.Source, resolved.Detail),
		}
		if !dbinfoOffline {
			log := stderrLogger(cmd.Context())
			var info sqlexec.ServerInfo
			err := withSpinner("contacting "+describeTarget(resolved.DSN), func() error {
				ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
				defer cancel()
				sess, err := sqlexec.Connect(ctx, resolved.DSN, log)
				if err != nil {
					return err
				}
				defer sess.Close()
				info, err = sess.ServerInfo(ctx)
				return err
			})
			if err != nil {
				lines = append(lines, "Status:  "+pterm.FgRed.Sprint("unreachable"))
			} else {
				lines = append(lines,
					"Status:  "+pterm.FgGreen.Sprint("ok"),
					"Server:  "+firstWords(info.Version, 2),
					"DB:      "+info.Database,
					"User:    "+info.User,
					"Schema:  "+info.Schema,
				)
			}
		}

		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Database Connection")).
			WithPadding(1).
			Println(strings.Join(lines, "\n"))
		pterm.Println()
		pterm.Println("To update this connection, run: rowdeck connect")
		return nil
	},
}

// firstWords keeps the leading n words of s; version() strings carry the
// full compiler banner.
func firstWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return strings.Join(f, " ")
}

func init() {
	rootCmd.AddCommand(dbinfoCmd)
	dbinfoCmd.Flags().BoolVar(&dbinfoOffline, "offline", false, "do not contact the server")
}
