package model

import (
	"fmt"

	"github.com/samcharles93/nexttoken/internal/tensor"
)

// PooledLM is a small language model whose hidden state is the running mean
// of the embeddings of every token seen since Reset. Logits are a linear
// projection of that state plus a bias.
type PooledLM struct {
	Vocab  int
	Hidden int

	Emb  tensor.Mat // [Vocab x Hidden]
	Head tensor.Mat // [Vocab x Hidden]
	Bias []float32  // [Vocab]

	sum []float32
	h   []float32
	n   int
}

// NewPooledLM returns a model with reproducible random weights.
func NewPooledLM(vocab, hidden int, seed int64) *PooledLM {
	m := &PooledLM{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    tensor.NewMat(vocab, hidden),
		Head:   tensor.NewMat(vocab, hidden),
		Bias:   make([]float32, vocab),
		sum:    make([]float32, hidden),
		h:      make([]float32, hidden),
	}
	tensor.FillRand(&m.Emb, seed+11, 0.02)
	tensor.FillRand(&m.Head, seed+23, 0.02)
	return m
}

// FromWeights builds a model from existing weights, validating shapes.
func FromWeights(emb, head tensor.Mat, bias []float32) (*PooledLM, error) {
	if emb.R == 0 || emb.C == 0 {
		return nil, fmt.Errorf("embedding matrix is empty")
	}
	if head.R != emb.R || head.C != emb.C {
		return nil, fmt.Errorf("head shape %dx%d does not match embedding %dx%d", head.R, head.C, emb.R, emb.C)
	}
	if bias == nil {
		bias = make([]float32, emb.R)
	}
	if len(bias) != emb.R {
		return nil, fmt.Errorf("bias length %d does not match vocab %d", len(bias), emb.R)
	}
	return &PooledLM{
		Vocab:  emb.R,
		Hidden: emb.C,
		Emb:    emb,
		Head:   head,
		Bias:   bias,
		sum:    make([]float32, emb.C),
		h:      make([]float32, emb.C),
	}, nil
}

func (m *PooledLM) VocabSize() int { return m.Vocab }

// ForwardToken folds id into the pooled state and returns fresh logits.
func (m *PooledLM) ForwardToken(id int) ([]float32, error) {
	if id < 0 || id >= m.Vocab {
		return nil, fmt.Errorf("token id %d outside vocabulary of %d", id, m.Vocab)
	}
	tensor.Axpy(m.sum, 1, m.Emb.Row(id))
	m.n++
	inv := 1 / float32(m.n)
	for i, v := range m.sum {
		m.h[i] = v * inv
	}

	logits := make([]float32, m.Vocab)
	tensor.MatVec(logits, &m.Head, m.h)
	for i, b := range m.Bias {
		logits[i] += b
	}
	return logits, nil
}

func (m *PooledLM) Reset() {
	clear(m.sum)
	clear(m.h)
	m.n = 0
}
