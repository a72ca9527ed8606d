// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for rowdeck. Without a
// subcommand it opens the interactive grid; query and repl run statements
// without the full-screen UI, and connect/dbinfo manage stored connections.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"rowdeck/cli/internal/config"
	"rowdeck/cli/internal/dsn"
	"rowdeck/cli/internal/history"
	"rowdeck/cli/internal/keychain"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/terminal"
	"rowdeck/cli/internal/tui"
	"rowdeck/cli/internal/workspace"
)

var (
	flagDSN       string
	flagProfile   string
	flagConfig    string
	flagLogLevel  string
	flagLogStderr bool
	showVersion   bool

	// cfg is loaded before any command runs.
	cfg = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "rowdeck",
	Short: "Terminal PostgreSQL client with an editable result grid",
	Long: `rowdeck runs SQL against PostgreSQL and shows results in a scrollable grid.
Rows stream in as you scroll, long queries can be cancelled, and rows read
from a single keyed table can be edited or deleted in place.

The connection string is taken from --dsn, ROWDECK_DSN or DATABASE_URL, the
config file, or the keychain profile saved by 'rowdeck connect'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion(cmd.OutOrStdout())
			return nil
		}
		return runInteractive(cmd.Context())
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		pslog.Ctx(ctx).Error("rowdeck command failed", "err", logging.Mask(err.Error()))
		if h := logging.Hint(err); h != "" {
			pterm.Println(pterm.NewStyle(pterm.FgYellow).Sprint("→ " + h))
		}
		return 1
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string (overrides environment, config and keychain)")
	pf.StringVarP(&flagProfile, "profile", "p", keychain.DefaultProfile, "keychain profile to read the DSN from")
	pf.StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/rowdeck/config.yaml)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	pf.BoolVar(&flagLogStderr, "log-stderr", false, "log to stderr instead of the log file")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := flagConfig
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		loaded.LogLevel = flagLogLevel
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded
	return nil
}

// stderrLogger is the console logger used by the line-oriented commands.
func stderrLogger(ctx context.Context) pslog.Logger {
	log, err := logging.New(os.Stderr, cfg.LogLevel, true)
	if err != nil {
		return pslog.Ctx(ctx)
	}
	return log
}

// fileLogger keeps log output off the screen while the grid owns it.
func fileLogger(ctx context.Context) (pslog.Logger, io.Closer) {
	if flagLogStderr {
		return stderrLogger(ctx), nopCloser{}
	}
	log, closer, err := logging.Open(cfg.LogLevel)
	if err != nil {
		return logging.Discard(), nopCloser{}
	}
	return log, closer
}

// resolveDSN finds the connection string for this invocation.
func resolveDSN() (dsn.Resolved, error) {
	l := dsn.Lookup{Flag: flagDSN, Config: cfg.Database.DSN, Profile: flagProfile}
	if km, err := keychain.GetManager(); err == nil {
		l.Store = km
	}
	r, err := dsn.Resolve(l)
	if errors.Is(err, dsn.ErrNoDSN) {
		return r, fmt.Errorf("%w: run 'rowdeck connect' or pass --dsn", err)
	}
	return r, err
}

// openWorkspace resolves the DSN and connects, with a spinner on
// interactive terminals.
func openWorkspace(ctx context.Context, log pslog.Logger) (*workspace.Workspace, dsn.Resolved, error) {
	resolved, err := resolveDSN()
	if err != nil {
		return nil, resolved, err
	}
	log.Debug("dsn resolved", "source", string(resolved.Source), "detail", resolved.Detail)
	var ws *workspace.Workspace
	err = withSpinner("connecting to "+describeTarget(resolved.DSN), func() error {
		ws, err = workspace.Open(ctx, resolved.DSN, cfg, log)
		return err
	})
	return ws, resolved, err
}

func runInteractive(ctx context.Context) error {
	if !terminal.IsInteractive() {
		return errors.New("the grid needs an interactive terminal; use 'rowdeck query' for scripts")
	}
	log, closer := fileLogger(ctx)
	defer closer.Close()

	ws, resolved, err := openWorkspace(ctx, log)
	if err != nil {
		return err
	}
	defer ws.Close()
	return tui.New(ws, log, tui.Options{
		History: loadHistory(log),
		Target:  describeTarget(resolved.DSN),
	}).Run(ctx)
}

// loadHistory opens the editor history. Without a usable state dir the
// session keeps history in memory only.
func loadHistory(log pslog.Logger) *history.History {
	if cfg.History.MaxEntries == 0 {
		return history.Memory(0)
	}
	path, err := history.DefaultPath()
	if err != nil {
		log.Warn("history unavailable", "err", err)
		return history.Memory(cfg.History.MaxEntries)
	}
	h, err := history.Load(path, cfg.History.MaxEntries)
	if err != nil {
		log.Warn("history file unreadable; starting empty", "path", path, "err", err)
	}
	return h
}
