package logits

import "testing"

// Two samplers with the same seed must agree draw for draw.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	probs := []float64{0.1, 0.2, 0.3, 0.4}
	s1 := NewSampler(42)
	s2 := NewSampler(42)
	for range 50 {
		if a, b := s1.Draw(probs), s2.Draw(probs); a != b {
			t.Fatalf("expected deterministic sample, got %d vs %d", a, b)
		}
	}
}

func TestSamplerSkipsZeroMass(t *testing.T) {
	t.Parallel()
	s := NewSampler(7)
	probs := []float64{0, 0, 1, 0}
	for range 100 {
		if idx := s.Draw(probs); idx != 2 {
			t.Fatalf("expected index 2, got %d", idx)
		}
	}
}

func TestSamplerCoversFullDistribution(t *testing.T) {
	t.Parallel()
	s := NewSampler(3)
	probs := []float64{0.5, 0.25, 0.125, 0.125}
	seen := make([]int, len(probs))
	const n = 4000
	for range n {
		seen[s.Draw(probs)]++
	}
	for i, c := range seen {
		if c == 0 {
			t.Fatalf("index %d never drawn: %v", i, seen)
		}
	}
	if frac := float64(seen[0]) / n; frac < 0.45 || frac > 0.55 {
		t.Fatalf("expected roughly half the draws on index 0, got %.3f", frac)
	}
}

func TestSamplerDegenerateInputs(t *testing.T) {
	t.Parallel()
	s := NewSampler(1)
	if got := s.Draw(nil); got != -1 {
		t.Fatalf("expected -1 for empty input, got %d", got)
	}
	if got := s.Draw([]float64{0, 0, 0}); got != 0 {
		t.Fatalf("expected argmax fallback, got %d", got)
	}
	if got := s.Draw([]float64{0.3, 0.1}); got != 0 && got != 1 {
		t.Fatalf("unnormalized input drew %d", got)
	}
}
