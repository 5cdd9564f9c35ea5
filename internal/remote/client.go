// Package remote computes next-token distributions by asking an
// Ollama-compatible server for one token with log-probabilities.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/logits"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 120 * time.Second

	// MaxTopLogprobs is the largest top_logprobs value Ollama accepts.
	MaxTopLogprobs = 20
)

type Config struct {
	BaseURL string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	Timeout      time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Client talks to /api/generate and /api/tags. One request, one call: there
// are no retries.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	defaultModel string
	log          logger.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		httpClient:   hc,
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		log:          log,
	}
}

// BaseURL is the normalized upstream address.
func (c *Client) BaseURL() string { return c.baseURL }

// Compute asks the upstream for a single token. The call is detached from
// ctx cancellation so a client disconnect does not abort it; it is bounded
// by the HTTP client timeout.
func (c *Client) Compute(ctx context.Context, req distribution.Request) (distribution.Source, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, distribution.InvalidInput("model is required for the remote provider")
	}

	body, err := json.Marshal(generateRequest{
		Model:       model,
		Prompt:      req.Text,
		Raw:         req.Raw,
		Stream:      false,
		Logprobs:    true,
		TopLogprobs: min(max(req.TopK, 1), MaxTopLogprobs),
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	url := c.baseURL + "/api/generate"
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(c.baseURL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var gen generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gen); err != nil {
		return nil, mapDecodeError(c.baseURL, err)
	}
	c.log.Debug("remote generate done", "model", model, "logprobs", len(gen.Logprobs), "elapsed", time.Since(start))
	return toSource(gen, req.Temperature), nil
}

// mapDecodeError separates a body read cut short by the client timeout from
// a genuinely malformed answer.
func mapDecodeError(target string, err error) error {
	if mapped := mapNetworkError(target, err); errors.Is(mapped, distribution.ErrUpstreamTimeout) {
		return mapped
	}
	return distribution.UpstreamMalformed(err)
}

// toSource picks the richest source the response supports: the reported
// alternatives, then the generated token's own logprob, then the bare token.
// Upstream logprobs come from unscaled logits, so the alternatives are
// rescaled to temperature to match the distribution upstream sampled from.
func toSource(gen generateResponse, temperature float64) distribution.Source {
	if len(gen.Logprobs) == 0 {
		return distribution.NoProbabilityData{Token: gen.Response}
	}
	first := gen.Logprobs[0]
	token := first.Token
	if token == "" {
		token = gen.Response
	}

	if len(first.TopLogprobs) > 0 {
		lps := make([]float64, len(first.TopLogprobs))
		tokens := make([]string, len(first.TopLogprobs))
		for i, alt := range first.TopLogprobs {
			lps[i] = min(alt.Logprob, 0)
			tokens[i] = alt.Token
		}
		return distribution.FullDistribution{
			Probs:   logits.ScaleLogprobs(lps, temperature),
			Decode:  distribution.DecodeList(tokens),
			Sampled: &token,
		}
	}
	if first.Logprob != nil {
		scaled := logits.ScaleLogprobs([]float64{min(*first.Logprob, 0)}, temperature)
		return distribution.SingleTokenOnly{Token: token, Logprob: logits.Logprob(scaled[0])}
	}
	return distribution.NoProbabilityData{Token: token}
}

// ListModels returns the model names reported by /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(c.baseURL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return nil, distribution.UpstreamMalformed(err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
