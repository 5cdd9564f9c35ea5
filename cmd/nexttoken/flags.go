package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/local"
	"github.com/samcharles93/nexttoken/internal/remote"
)

const (
	providerLocal  = "local"
	providerRemote = "remote"
)

var (
	provider      string
	modelRef      string
	modelsPath    string
	device        string
	remoteURL     string
	remoteTimeout time.Duration
	topK          int
	temperature   float64
	seed          int64
	logLevel      string
	logFormat     string
	debug         bool
)

func providerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "distribution provider (local, remote)",
			Value:       providerLocal,
			Sources:     cli.EnvVars("NEXTTOKEN_PROVIDER"),
			Destination: &provider,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "local model directory or name, or the default remote model",
			Sources:     cli.EnvVars("NEXTTOKEN_MODEL"),
			Destination: &modelRef,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing local model directories",
			Sources:     cli.EnvVars("NEXTTOKEN_MODELS_DIR"),
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "local execution device (auto, cpu)",
			Value:       local.DeviceAuto,
			Sources:     cli.EnvVars("NEXTTOKEN_DEVICE"),
			Destination: &device,
		},
		&cli.StringFlag{
			Name:        "remote-url",
			Usage:       "base URL of the Ollama-compatible server",
			Value:       remote.DefaultBaseURL,
			Sources:     cli.EnvVars("NEXTTOKEN_REMOTE_URL"),
			Destination: &remoteURL,
		},
		&cli.DurationFlag{
			Name:        "remote-timeout",
			Usage:       "timeout for one remote call",
			Value:       remote.DefaultTimeout,
			Destination: &remoteTimeout,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampler seed (-1 = random)",
			Value:       -1,
			Destination: &seed,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "number of candidates to report",
			Value:       distribution.DefaultTopK,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       distribution.DefaultTemperature,
			Destination: &temperature,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("NEXTTOKEN_LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
