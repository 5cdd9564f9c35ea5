package api

import "github.com/samcharles93/nexttoken/internal/distribution"

// NextTokenRequest is the body of POST /api/next-token. Pointer fields are
// optional and fall back to the server defaults.
type NextTokenRequest struct {
	Text        string   `json:"text"`
	TopK        *int     `json:"top_k,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Model       *string  `json:"model,omitempty"`
	Raw         *bool    `json:"raw,omitempty"`
}

func (r NextTokenRequest) options() distribution.RequestOptions {
	return distribution.RequestOptions{
		Text:        r.Text,
		TopK:        r.TopK,
		Temperature: r.Temperature,
		Model:       r.Model,
		Raw:         r.Raw,
	}
}

type CandidateDTO struct {
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

type NextTokenResponse struct {
	Candidates []CandidateDTO `json:"candidates"`
	Sampled    string         `json:"sampled"`
	// Warning is null unless the response is degraded.
	Warning *string `json:"warning"`
}

// NewNextTokenResponse converts a service result to its wire form.
func NewNextTokenResponse(res distribution.Result) NextTokenResponse {
	out := NextTokenResponse{
		Candidates: make([]CandidateDTO, 0, len(res.Candidates)),
		Sampled:    res.Sampled,
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, CandidateDTO{Token: c.Token, Prob: c.Prob})
	}
	if res.Warning != "" {
		w := res.Warning
		out.Warning = &w
	}
	return out
}

type ModelsResponse struct {
	Models []string `json:"models"`
	Error  string   `json:"error,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
