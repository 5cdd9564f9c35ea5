package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttoken/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			printVersion(os.Stdout, version.Resolve())
			return nil
		},
	}
}

func printVersion(w io.Writer, info version.Info) {
	rows := [][2]string{
		{"version", info.Version},
		{"commit", info.Commit},
		{"built", info.BuildTime},
		{"go", runtime.Version()},
		{"platform", runtime.GOOS + "/" + runtime.GOARCH},
	}
	for _, r := range rows {
		if r[1] != "" {
			_, _ = fmt.Fprintf(w, "%-9s %s\n", r[0]+":", r[1])
		}
	}
}
