package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttoken/internal/local"
	"github.com/samcharles93/nexttoken/internal/remote"
)

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls", "list-models"},
		Usage:   "List local model directories or the remote server's models",
		Flags:   providerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}

			var names []string
			switch strings.ToLower(strings.TrimSpace(provider)) {
			case providerRemote:
				c := remote.NewClient(remote.Config{BaseURL: remoteURL, Timeout: remoteTimeout})
				defer func() { _ = c.Close() }()
				names, err = c.ListModels(ctx)
				if err != nil {
					return err
				}
			case providerLocal, "":
				dir := strings.TrimSpace(modelsPath)
				if dir == "" {
					return fmt.Errorf("--models-path is required to list local models")
				}
				names, err = local.DiscoverModels(dir)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown provider %q", provider)
			}

			if len(names) == 0 {
				fmt.Println("no models found")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}
