package distribution

import (
	"math"
	"strings"
)

const (
	DefaultTopK        = 10
	DefaultTemperature = 0.7

	// DisplayDigits is the number of decimals kept in reported probabilities.
	DisplayDigits = 6
)

// WarningNoAlternatives is attached to degraded results.
const WarningNoAlternatives = "Top-K alternative probabilities are unavailable for this model/runner; " +
	"showing only the generated token."

// Candidate is one ranked next-token option.
type Candidate struct {
	Token string
	Prob  float64
}

// Result is the outcome of one next-token computation.
type Result struct {
	Candidates []Candidate
	Sampled    string
	// Warning is empty unless the result is degraded.
	Warning  string
	Degraded bool
}

// Request describes a single next-token query.
type Request struct {
	Text        string
	TopK        int
	Temperature float64
	Model       string
	Raw         bool
}

// Validate checks the request. TopK is not validated here: it is clamped to
// the distribution size when the result is formatted.
func (r Request) Validate() error {
	if r.Text == "" {
		return InvalidInput("prompt text is empty")
	}
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return InvalidInput("temperature must be a finite number")
	}
	if r.Temperature < 0 {
		return InvalidInput("temperature must be >= 0, got %g", r.Temperature)
	}
	return nil
}

// Greedy reports whether the request asks for deterministic decoding.
func (r Request) Greedy() bool {
	return r.Temperature == 0
}

// RequestOptions holds optional request fields; nil means "use the default".
type RequestOptions struct {
	Text        string
	TopK        *int
	Temperature *float64
	Model       *string
	Raw         *bool
}

// Defaults are the server-side values applied to omitted request fields.
type Defaults struct {
	TopK        int
	Temperature float64
	Model       string
	Raw         bool
}

// DefaultDefaults mirrors the public request contract.
func DefaultDefaults() Defaults {
	return Defaults{
		TopK:        DefaultTopK,
		Temperature: DefaultTemperature,
		Raw:         true,
	}
}

// ResolveRequest merges opts over defaults.
func ResolveRequest(opts RequestOptions, defaults Defaults) Request {
	req := Request{
		Text:        opts.Text,
		TopK:        defaults.TopK,
		Temperature: defaults.Temperature,
		Model:       defaults.Model,
		Raw:         defaults.Raw,
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if opts.TopK != nil {
		req.TopK = *opts.TopK
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.Model != nil && strings.TrimSpace(*opts.Model) != "" {
		req.Model = strings.TrimSpace(*opts.Model)
	}
	if opts.Raw != nil {
		req.Raw = *opts.Raw
	}
	return req
}
