package distribution

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/observability"
)

// Provider computes the raw next-token data for a validated request.
type Provider interface {
	Compute(ctx context.Context, req Request) (Source, error)
}

// ModelLister reports the model identifiers a provider can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelList is the best-effort answer to a model listing. Error is set
// instead of failing the call.
type ModelList struct {
	Models []string
	Error  string
}

type ServiceConfig struct {
	// ProviderName labels logs and metrics ("local" or "remote").
	ProviderName string
	Provider     Provider
	// Lister is optional; when nil the provider is asked if it implements ModelLister.
	Lister    ModelLister
	Formatter *Formatter
	Logger    logger.Logger
}

// Service validates requests, calls the configured provider and formats the
// result.
type Service struct {
	name      string
	provider  Provider
	lister    ModelLister
	formatter *Formatter
	log       logger.Logger
	now       func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		name:      cfg.ProviderName,
		provider:  cfg.Provider,
		lister:    cfg.Lister,
		formatter: cfg.Formatter,
		log:       cfg.Logger,
		now:       time.Now,
	}
	if s.name == "" {
		s.name = "unknown"
	}
	if s.lister == nil {
		if l, ok := cfg.Provider.(ModelLister); ok {
			s.lister = l
		}
	}
	if s.formatter == nil {
		s.formatter = NewFormatter(nil)
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	return s
}

// ProviderName returns the label of the configured provider.
func (s *Service) ProviderName() string {
	return s.name
}

// NextToken computes the ranked next-token candidates and one sampled token.
// Invalid requests are rejected before the provider is called.
func (s *Service) NextToken(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if s.provider == nil {
		return Result{}, Inference("no provider configured", nil)
	}

	start := s.now()
	src, err := s.provider.Compute(ctx, req)
	observability.ProviderLatency.WithLabelValues(s.name).Observe(s.now().Sub(start).Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(s.name, Class(err)).Inc()
		return Result{}, err
	}

	res, err := s.formatter.Format(src, req.TopK, req.Temperature)
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(s.name, Class(err)).Inc()
		return Result{}, err
	}

	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
		s.log.Warn("degraded next-token response", "provider", s.name, "model", req.Model, "sampled", res.Sampled)
	}
	observability.ProviderRequestsTotal.WithLabelValues(s.name, outcome).Inc()
	s.log.Debug("next token computed",
		"provider", s.name,
		"candidates", len(res.Candidates),
		"top_k", req.TopK,
		"temperature", req.Temperature,
		"elapsed", s.now().Sub(start),
	)
	return res, nil
}

// ListModels never fails; discovery errors are reported in ModelList.Error.
func (s *Service) ListModels(ctx context.Context) ModelList {
	if s.lister == nil {
		return ModelList{Models: []string{}}
	}
	models, err := s.lister.ListModels(ctx)
	if err != nil {
		s.log.Warn("model discovery failed", "provider", s.name, "error", err)
		return ModelList{Models: []string{}, Error: err.Error()}
	}
	if models == nil {
		models = []string{}
	}
	return ModelList{Models: models}
}

// Class names the error class of err for logs and metric labels.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrInference):
		return "inference_error"
	case errors.Is(err, ErrUpstreamUnreachable):
		return "upstream_unreachable"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrUpstreamError):
		return "upstream_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal_error"
	}
}
