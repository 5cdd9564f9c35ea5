package distribution

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/nexttoken/internal/logits"
)

var vocab = []string{"<s>", " Paris", " the", " a", " Lyon", " located", "."}

func fullSource(t *testing.T, raw []float32, temperature float64) FullDistribution {
	t.Helper()
	probs, err := logits.Softmax(raw, temperature)
	if err != nil {
		t.Fatalf("Softmax() error = %v", err)
	}
	return FullDistribution{Probs: probs, Decode: DecodeList(vocab)}
}

func TestFormatFullDistributionRanksDescending(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	src := fullSource(t, []float32{-3, 4.5, 2, 1.5, 1, 0.5, -1}, 0.7)

	res, err := f.Format(src, 3, 0.7)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Token != " Paris" {
		t.Fatalf("expected \" Paris\" first, got %q", res.Candidates[0].Token)
	}
	var sum float64
	for i, c := range res.Candidates {
		sum += c.Prob
		if i > 0 && c.Prob > res.Candidates[i-1].Prob {
			t.Fatalf("probabilities not non-increasing: %+v", res.Candidates)
		}
	}
	if sum > 1+1e-6 {
		t.Fatalf("candidate probabilities sum to %v", sum)
	}
	if res.Warning != "" || res.Degraded {
		t.Fatalf("unexpected degradation: %+v", res)
	}
	found := false
	for _, tok := range vocab {
		if tok == res.Sampled {
			found = true
		}
	}
	if !found {
		t.Fatalf("sampled token %q not in vocabulary", res.Sampled)
	}
}

func TestFormatClampsTopK(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	src := fullSource(t, []float32{1, 2, 3, 4, 5, 6, 7}, 1)

	cases := []struct {
		topK int
		want int
	}{
		{topK: -5, want: 1},
		{topK: 0, want: 1},
		{topK: 4, want: 4},
		{topK: 7, want: 7},
		{topK: 1000, want: 7},
	}
	for _, tc := range cases {
		res, err := f.Format(src, tc.topK, 1)
		if err != nil {
			t.Fatalf("Format(topK=%d) error = %v", tc.topK, err)
		}
		if len(res.Candidates) != tc.want {
			t.Fatalf("Format(topK=%d) returned %d candidates, want %d", tc.topK, len(res.Candidates), tc.want)
		}
	}
}

func TestFormatGreedyIsPointMass(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(-1))
	src := fullSource(t, []float32{0, 1, 3, 2, 0, 0, 0}, 0)

	first, err := f.Format(src, 3, 0)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := []Candidate{{" the", 1}, {" a", 0}, {" Paris", 0}}
	for i, c := range first.Candidates {
		if c != want[i] {
			t.Fatalf("candidate %d = %+v, want %+v", i, c, want[i])
		}
	}
	if first.Sampled != " the" {
		t.Fatalf("expected argmax sample, got %q", first.Sampled)
	}
	for range 20 {
		again, _ := f.Format(src, 3, 0)
		if again.Sampled != first.Sampled {
			t.Fatalf("greedy sampling is not deterministic: %q vs %q", again.Sampled, first.Sampled)
		}
	}
}

func TestFormatGreedyIgnoresUpstreamSample(t *testing.T) {
	t.Parallel()
	f := NewFormatter(nil)
	other := " Lyon"
	src := fullSource(t, []float32{0, 5, 1, 1, 1, 1, 1}, 1)
	src.Sampled = &other

	res, err := f.Format(src, 2, 0)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if res.Sampled != " Paris" {
		t.Fatalf("expected argmax, got %q", res.Sampled)
	}
}

func TestFormatUsesUpstreamSample(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	sampled := " Lyon"
	src := fullSource(t, []float32{0, 5, 1, 1, 1, 1, 1}, 1)
	src.Sampled = &sampled

	res, err := f.Format(src, 2, 0.8)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if res.Sampled != " Lyon" {
		t.Fatalf("expected upstream sample, got %q", res.Sampled)
	}
}

func TestFormatStableTies(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	src := FullDistribution{Probs: []float64{0.25, 0.25, 0.25, 0.25}, Decode: DecodeList([]string{"a", "b", "c", "d"})}
	res, err := f.Format(src, 4, 1)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if res.Candidates[i].Token != want {
			t.Fatalf("expected index order on ties, got %+v", res.Candidates)
		}
	}
}

func TestFormatRoundsForDisplay(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	src := FullDistribution{Probs: []float64{0.1234567891, 0.8765432109}, Decode: DecodeList([]string{"x", "y"})}
	res, err := f.Format(src, 2, 1)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if res.Candidates[0].Prob != 0.876543 || res.Candidates[1].Prob != 0.123457 {
		t.Fatalf("unexpected rounding: %+v", res.Candidates)
	}
}

func TestFormatSingleTokenOnly(t *testing.T) {
	t.Parallel()
	f := NewFormatter(nil)
	lp := math.Log(0.42)

	res, err := f.Format(SingleTokenOnly{Token: "Paris", Logprob: lp}, 5, 0.7)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Token != "Paris" || res.Candidates[0].Prob != 0.42 {
		t.Fatalf("unexpected candidates: %+v", res.Candidates)
	}
	if res.Sampled != "Paris" || res.Warning == "" || !res.Degraded {
		t.Fatalf("expected degraded result with warning, got %+v", res)
	}

	greedy, _ := f.Format(SingleTokenOnly{Token: "Paris", Logprob: lp}, 5, 0)
	if greedy.Candidates[0].Prob != 1 {
		t.Fatalf("expected point mass at temperature 0, got %+v", greedy.Candidates)
	}
}

func TestFormatNoProbabilityData(t *testing.T) {
	t.Parallel()
	f := NewFormatter(nil)
	res, err := f.Format(NoProbabilityData{Token: "Paris"}, 10, 0.7)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0] != (Candidate{Token: "Paris", Prob: 1}) {
		t.Fatalf("unexpected candidates: %+v", res.Candidates)
	}
	if res.Sampled != "Paris" || res.Warning != WarningNoAlternatives {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFormatFailures(t *testing.T) {
	t.Parallel()
	f := NewFormatter(nil)
	failing := func(int) (string, error) { return "", errors.New("boom") }

	cases := []struct {
		name string
		src  Source
		temp float64
		want error
	}{
		{"nil source", nil, 1, ErrInference},
		{"empty distribution", FullDistribution{Decode: DecodeList(nil)}, 1, ErrInference},
		{"missing decoder", FullDistribution{Probs: []float64{1}}, 1, ErrInference},
		{"decode failure", FullDistribution{Probs: []float64{1}, Decode: failing}, 1, ErrInference},
		{"negative temperature", NoProbabilityData{Token: "x"}, -1, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Format(tc.src, 3, tc.temp)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Format() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFormatRoundedSumNeverExceedsOne(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	tests := [][]float64{
		{0.3333335, 0.3333335, 0.333333},
		{0.5000005, 0.4999995},
		{0.1666665, 0.1666665, 0.1666665, 0.1666665, 0.1666665, 0.1666675},
	}
	for _, probs := range tests {
		tokens := make([]string, len(probs))
		for i := range tokens {
			tokens[i] = string(rune('a' + i))
		}
		res, err := f.Format(FullDistribution{Probs: probs, Decode: DecodeList(tokens)}, len(probs), 1)
		if err != nil {
			t.Fatalf("Format(%v) error = %v", probs, err)
		}
		var units int64
		var sum float64
		for i, c := range res.Candidates {
			units += int64(math.Round(c.Prob * 1e6))
			sum += c.Prob
			if i > 0 && c.Prob > res.Candidates[i-1].Prob {
				t.Fatalf("%v: ranking not descending: %+v", probs, res.Candidates)
			}
		}
		if units > 1_000_000 || sum > 1+1e-12 {
			t.Fatalf("%v: displayed sum %v > 1: %+v", probs, sum, res.Candidates)
		}
	}
}

func TestFormatRoundingKeepsExactTotals(t *testing.T) {
	t.Parallel()
	f := NewFormatter(logits.NewSampler(1))
	src := FullDistribution{Probs: []float64{0.3333335, 0.3333335, 0.333333}, Decode: DecodeList([]string{"x", "y", "z"})}
	res, err := f.Format(src, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.333334, 0.333334, 0.333332}
	for i, c := range res.Candidates {
		if c.Prob != want[i] {
			t.Fatalf("candidate %d = %v, want %v", i, c.Prob, want[i])
		}
	}
}
