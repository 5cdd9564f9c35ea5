package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttoken/internal/api"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int
	)

	flags := append(providerFlags(), samplingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8000",
			Sources:     cli.EnvVars("NEXTTOKEN_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate-limit",
			Usage:       "max next-token requests per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.IntFlag{
			Name:        "rate-burst",
			Usage:       "rate limiter burst size",
			Value:       10,
			Destination: &rateBurst,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the next-token HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			applyServeConfig(cmd, cfg, &addr, &rateLimit, &rateBurst)
			log := logger.FromContext(ctx)

			b, err := newBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			if b.start != nil {
				if err := b.start(ctx, false); err != nil {
					return err
				}
			}

			server := api.NewServer(api.Options{
				Service:  b.service,
				Defaults: b.defaults(),
				Health:   b.health,
				Limiter:  api.NewLimiter(rateLimit, rateBurst),
				Logger:   log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			printBanner(os.Stderr, b, addr)
			log.Info("starting server", "address", addr, "provider", b.name)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func printBanner(w io.Writer, b *backend, addr string) {
	_, _ = fmt.Fprintf(w, "nexttoken %s\n", version.String())
	_, _ = fmt.Fprintf(w, "  provider: %s\n", b.name)
	if b.name == providerRemote {
		_, _ = fmt.Fprintf(w, "  upstream: %s\n", b.device)
		if b.model != "" {
			_, _ = fmt.Fprintf(w, "  model:    %s\n", b.model)
		}
	} else {
		_, _ = fmt.Fprintf(w, "  model:    %s\n", b.model)
		_, _ = fmt.Fprintf(w, "  device:   %s\n", b.device)
	}
	_, _ = fmt.Fprintf(w, "  listen:   http://%s\n", addr)
}
