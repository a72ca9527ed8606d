// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for the rowdeck CLI.
package main

import (
	"context"
	"os"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"rowdeck/cli/cmd"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.WarnLevel}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	return cmd.Execute(ctx)
}
