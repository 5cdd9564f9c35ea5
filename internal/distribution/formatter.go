package distribution

import (
	"fmt"
	"math"

	"github.com/samcharles93/nexttoken/internal/logits"
)

// Formatter turns a Source into a ranked, display-ready Result. It does not
// know which provider produced the numbers.
type Formatter struct {
	sampler *logits.Sampler
}

// NewFormatter returns a Formatter drawing samples from sampler. A nil
// sampler gets a time-seeded one.
func NewFormatter(sampler *logits.Sampler) *Formatter {
	if sampler == nil {
		sampler = logits.NewSampler(-1)
	}
	return &Formatter{sampler: sampler}
}

// Format ranks src and picks the sampled token.
//
// At temperature 0 the distribution is treated as a point mass on the
// argmax: that token is listed first at probability 1 and the remaining
// slots keep the natural ranking at probability 0. A SingleTokenOnly source
// follows the same rule, so its one token is reported at 1 rather than
// exp(logprob). At temperature > 0 the probabilities are reported as given,
// rounded so the listed candidates never total more than 1.
func (f *Formatter) Format(src Source, topK int, temperature float64) (Result, error) {
	if temperature < 0 || math.IsNaN(temperature) {
		return Result{}, InvalidInput("temperature must be >= 0, got %g", temperature)
	}
	greedy := temperature == 0

	switch s := src.(type) {
	case FullDistribution:
		return f.formatFull(s, topK, greedy)
	case SingleTokenOnly:
		prob := 1.0
		if !greedy {
			prob = clampProb(logits.Prob(s.Logprob))
		}
		return Result{
			Candidates: []Candidate{{Token: s.Token, Prob: logits.Round(prob, DisplayDigits)}},
			Sampled:    s.Token,
			Warning:    WarningNoAlternatives,
			Degraded:   true,
		}, nil
	case NoProbabilityData:
		return Result{
			Candidates: []Candidate{{Token: s.Token, Prob: 1}},
			Sampled:    s.Token,
			Warning:    WarningNoAlternatives,
			Degraded:   true,
		}, nil
	case nil:
		return Result{}, Inference("provider returned no data", nil)
	default:
		return Result{}, Inference(fmt.Sprintf("unsupported source %T", src), nil)
	}
}

func (f *Formatter) formatFull(s FullDistribution, topK int, greedy bool) (Result, error) {
	n := len(s.Probs)
	if n == 0 {
		return Result{}, Inference("empty distribution", nil)
	}
	if s.Decode == nil {
		return Result{}, Inference("distribution has no decoder", nil)
	}
	k := min(max(topK, 1), n)

	order := logits.TopK(s.Probs, k)
	out := Result{Candidates: make([]Candidate, 0, k)}
	for rank, id := range order {
		tok, err := s.Decode(id)
		if err != nil {
			return Result{}, Inference("decode token", err)
		}
		p := clampProb(s.Probs[id])
		if greedy {
			p = 0
			if rank == 0 {
				p = 1
			}
		}
		out.Candidates = append(out.Candidates, Candidate{Token: tok, Prob: p})
	}
	roundCandidates(out.Candidates)

	switch {
	case greedy:
		// TopK and Argmax share the lowest-index tie rule, so order[0] is the argmax.
		out.Sampled = out.Candidates[0].Token
	case s.Sampled != nil:
		out.Sampled = *s.Sampled
	default:
		id := f.sampler.Draw(s.Probs)
		tok, err := s.Decode(id)
		if err != nil {
			return Result{}, Inference("decode sampled token", err)
		}
		out.Sampled = tok
	}
	return out, nil
}

// roundCandidates rounds each probability to DisplayDigits. When rounding up
// pushes the total past 1, the overshoot is taken from the tail of the list,
// which keeps the ranking non-increasing.
func roundCandidates(cands []Candidate) {
	scale := math.Pow10(DisplayDigits)
	one := int64(scale)
	units := make([]int64, len(cands))
	var total int64
	for i, c := range cands {
		units[i] = int64(math.Round(c.Prob * scale))
		total += units[i]
	}
	for i := len(units) - 1; i >= 0 && total > one; i-- {
		d := min(total-one, units[i])
		units[i] -= d
		total -= d
	}
	for i := range cands {
		cands[i].Prob = float64(units[i]) / scale
	}
}

func clampProb(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
