package logits

import (
	"math/rand"
	"sync"
	"time"
)

// Sampler draws indices from probability vectors. It is safe for concurrent
// use; the underlying source is guarded by a mutex.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler seeded with seed. A negative seed uses the
// current time.
func NewSampler(seed int64) *Sampler {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Draw performs one categorical draw over probs using inverse transform
// sampling: a uniform value in [0, total) walks the cumulative sum until it
// falls inside an interval. probs need not sum to exactly 1.
//
// Zero-probability entries are never returned unless every entry is zero, in
// which case Draw falls back to the argmax (index 0 for an all-zero vector).
// It returns -1 for an empty slice.
func (s *Sampler) Draw(probs []float64) int {
	if len(probs) == 0 {
		return -1
	}
	var total float64
	last := -1
	for i, p := range probs {
		if p > 0 {
			total += p
			last = i
		}
	}
	if last < 0 {
		return Argmax(probs)
	}

	s.mu.Lock()
	u := s.rng.Float64() * total
	s.mu.Unlock()

	var c float64
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		c += p
		if u < c {
			return i
		}
	}
	// Rounding left u at the very top of the range.
	return last
}
