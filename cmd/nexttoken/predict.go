package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttoken/internal/api"
	"github.com/samcharles93/nexttoken/internal/distribution"
)

const defaultLoadTimeout = 5 * time.Minute

func predictCmd() *cli.Command {
	var (
		text    string
		raw     bool
		asJSON  bool
		timeout time.Duration
	)

	flags := append(providerFlags(), samplingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "text",
			Usage:       "prompt text (defaults to the positional arguments)",
			Destination: &text,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "send the prompt without the remote model's template",
			Value:       true,
			Destination: &raw,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the result as JSON",
			Destination: &asJSON,
		},
		&cli.DurationFlag{
			Name:        "load-timeout",
			Usage:       "how long to wait for the local model to load",
			Value:       defaultLoadTimeout,
			Destination: &timeout,
		},
	)

	return &cli.Command{
		Name:      "predict",
		Usage:     "Print the next-token distribution for a prompt",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			if text == "" {
				text = strings.Join(cmd.Args().Slice(), " ")
			}

			b, err := newBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			if b.start != nil {
				loadCtx, cancel := context.WithTimeout(ctx, timeout)
				err := b.start(loadCtx, true)
				cancel()
				if err != nil {
					return fmt.Errorf("load model: %w", err)
				}
			}

			d := b.defaults()
			req := distribution.Request{
				Text:        text,
				TopK:        d.TopK,
				Temperature: d.Temperature,
				Model:       d.Model,
				Raw:         raw,
			}
			res, err := b.service.NextToken(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeResultJSON(os.Stdout, res)
			}
			return writeResultTable(os.Stdout, res)
		},
	}
}

func writeResultTable(w io.Writer, res distribution.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tTOKEN\tPROB")
	for i, c := range res.Candidates {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, strconv.Quote(c.Token), strconv.FormatFloat(c.Prob, 'f', distribution.DisplayDigits, 64))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "\nsampled: %s\n", strconv.Quote(res.Sampled))
	if res.Warning != "" {
		_, _ = fmt.Fprintf(w, "warning: %s\n", res.Warning)
	}
	return nil
}

func writeResultJSON(w io.Writer, res distribution.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewNextTokenResponse(res))
}
