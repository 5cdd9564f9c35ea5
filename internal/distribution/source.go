package distribution

import "fmt"

// Source is what a Provider hands to the Formatter. It is a closed set:
// FullDistribution, SingleTokenOnly or NoProbabilityData.
type Source interface {
	source()
}

// FullDistribution carries per-token probabilities. For the local provider
// Probs spans the whole vocabulary; for the remote provider it holds the
// alternatives the endpoint reported.
type FullDistribution struct {
	Probs []float64
	// Decode turns an index into Probs into its surface text.
	Decode func(id int) (string, error)
	// Sampled, when set, is the token already chosen by the upstream
	// generator. When nil the Formatter draws one from Probs.
	Sampled *string
}

// SingleTokenOnly is a degraded source: only the generated token and its
// log-probability are known.
type SingleTokenOnly struct {
	Token   string
	Logprob float64
}

// NoProbabilityData is a degraded source with no probability information.
type NoProbabilityData struct {
	Token string
}

func (FullDistribution) source()  {}
func (SingleTokenOnly) source()   {}
func (NoProbabilityData) source() {}

// DecodeList adapts a slice of token strings to FullDistribution.Decode.
func DecodeList(tokens []string) func(int) (string, error) {
	return func(id int) (string, error) {
		if id < 0 || id >= len(tokens) {
			return "", fmt.Errorf("token index out of range: %d", id)
		}
		return tokens[id], nil
	}
}
