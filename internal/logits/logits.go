package logits

import (
	"errors"
	"math"
)

// ErrNonFinite is returned when a logit vector contains NaN or ±Inf.
var ErrNonFinite = errors.New("logits: non-finite value")

// ErrEmpty is returned for zero-length inputs.
var ErrEmpty = errors.New("logits: empty vector")

// Softmax scales logits by the inverse temperature and normalizes them into
// a probability vector. A temperature <= 0 is treated as 1 so the natural
// ranking is preserved; callers wanting greedy decoding use Argmax on the
// result.
//
// The maximum is subtracted before exponentiation for numerical stability.
// The computation runs in float64 so long vocabularies do not lose mass.
func Softmax(logits []float32, temperature float64) ([]float64, error) {
	if len(logits) == 0 {
		return nil, ErrEmpty
	}
	invTemp := 1.0
	if temperature > 0 {
		invTemp = 1.0 / temperature
	}

	maxv := math.Inf(-1)
	for _, l := range logits {
		v := float64(l)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNonFinite
		}
		if v > maxv {
			maxv = v
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		e := math.Exp((float64(l) - maxv) * invTemp)
		probs[i] = e
		sum += e
	}
	// sum >= 1 because the max element contributes exp(0).
	inv := 1.0 / sum
	for i := range probs {
		probs[i] *= inv
	}
	return probs, nil
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index. It returns -1 for an empty slice.
func Argmax(x []float64) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// TopK returns the indices of the k largest values, ordered from largest to
// smallest. Equal values keep their original index order. k is clamped to
// [0, len(x)].
//
// Selection is an O(len(x)*k) insertion into a bounded list, which is cheaper
// than sorting a full vocabulary for the small k used for display.
func TopK(x []float64, k int) []int {
	k = min(max(k, 0), len(x))
	if k == 0 {
		return nil
	}
	idx := make([]int, 0, k+1)
	for i, v := range x {
		pos := len(idx)
		for pos > 0 && x[idx[pos-1]] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		copy(idx[pos+1:], idx[pos:])
		idx[pos] = i
		if len(idx) > k {
			idx = idx[:k]
		}
	}
	return idx
}

// Prob converts a natural-log probability to a probability.
func Prob(logprob float64) float64 {
	return math.Exp(logprob)
}

// Logprob converts a probability to its natural logarithm. Prob and Logprob
// are inverses within floating-point tolerance.
func Logprob(prob float64) float64 {
	return math.Log(prob)
}

// ScaleLogprobs rescales a partial list of log-probabilities to the given
// temperature. The mass the list does not cover, 1 - sum(exp(lp)), is kept
// as one residual bucket so a temperature of 1 returns exp(lp) unchanged.
// The result sums to at most 1. A temperature <= 0 is treated as 1.
func ScaleLogprobs(lps []float64, temperature float64) []float64 {
	if len(lps) == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = 1
	}

	var mass float64
	maxv := math.Inf(-1)
	for _, lp := range lps {
		mass += math.Exp(lp)
		maxv = math.Max(maxv, lp)
	}
	residual := 1 - mass
	if residual > 0 {
		maxv = math.Max(maxv, math.Log(residual))
	}

	probs := make([]float64, len(lps))
	var sum float64
	for i, lp := range lps {
		probs[i] = math.Exp((lp - maxv) / temperature)
		sum += probs[i]
	}
	if residual > 0 {
		sum += math.Exp((math.Log(residual) - maxv) / temperature)
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Round rounds v to the given number of decimal digits.
func Round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
