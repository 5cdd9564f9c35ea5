package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/samcharles93/nexttoken/internal/api"
	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/local"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/logits"
	"github.com/samcharles93/nexttoken/internal/remote"
)

// backend is the assembled provider plus what the commands need around it.
type backend struct {
	name    string
	model   string
	device  string
	service *distribution.Service
	health  api.HealthFunc

	// start begins loading the local model; nil for remote.
	start func(ctx context.Context, wait bool) error
	close func()
}

func newBackend(ctx context.Context) (*backend, error) {
	log := logger.FromContext(ctx)
	formatter := distribution.NewFormatter(logits.NewSampler(seed))

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case providerLocal, "":
		return newLocalBackend(log, formatter)
	case providerRemote:
		return newRemoteBackend(log, formatter), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: %s, %s)", provider, providerLocal, providerRemote)
	}
}

func newLocalBackend(log logger.Logger, formatter *distribution.Formatter) (*backend, error) {
	dev, err := local.ResolveDevice(device)
	if err != nil {
		return nil, err
	}
	dir, err := resolveLocalModel(modelRef, modelsPath)
	if err != nil {
		return nil, err
	}

	h := local.NewHandle()
	loader := local.Loader{Dir: dir, Device: dev}
	p := local.NewProvider(h, log)
	return &backend{
		name:   providerLocal,
		model:  dir,
		device: dev,
		service: distribution.NewService(distribution.ServiceConfig{
			ProviderName: providerLocal,
			Provider:     p,
			Formatter:    formatter,
			Logger:       log,
		}),
		health: func() api.HealthResponse {
			resp := api.HealthResponse{Status: h.State().String(), Provider: providerLocal, Model: h.Name()}
			if err := h.Err(); err != nil {
				resp.Error = err.Error()
			}
			return resp
		},
		start: func(ctx context.Context, wait bool) error {
			if wait {
				return h.Load(ctx, loader.Load)
			}
			h.Start(ctx, loader.Load)
			return nil
		},
		close: func() {},
	}, nil
}

func newRemoteBackend(log logger.Logger, formatter *distribution.Formatter) *backend {
	c := remote.NewClient(remote.Config{
		BaseURL:      remoteURL,
		DefaultModel: modelRef,
		Timeout:      remoteTimeout,
		Logger:       log,
	})
	return &backend{
		name:   providerRemote,
		model:  modelRef,
		device: c.BaseURL(),
		service: distribution.NewService(distribution.ServiceConfig{
			ProviderName: providerRemote,
			Provider:     c,
			Formatter:    formatter,
			Logger:       log,
		}),
		close: func() { _ = c.Close() },
	}
}

// resolveLocalModel picks the model directory. Without a model reference a
// models directory holding exactly one model is used.
func resolveLocalModel(ref, modelsDir string) (string, error) {
	if strings.TrimSpace(ref) != "" {
		return local.ResolveModelDir(ref, modelsDir)
	}
	if strings.TrimSpace(modelsDir) == "" {
		return "", fmt.Errorf("--model or --models-path is required for the local provider")
	}
	names, err := local.DiscoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no models found in %s", modelsDir)
	case 1:
		return local.ResolveModelDir(names[0], modelsDir)
	default:
		return "", fmt.Errorf("multiple models found in %s (%s); set --model", modelsDir, strings.Join(names, ", "))
	}
}

func (b *backend) defaults() distribution.Defaults {
	d := distribution.Defaults{
		TopK:        topK,
		Temperature: temperature,
		Raw:         true,
	}
	if b.name == providerRemote {
		d.Model = modelRef
	}
	return d
}
