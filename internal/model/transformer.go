package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/nexttoken/internal/tensor"
)

// TransformerConfig holds the resolved sizes of a decoder-only transformer.
type TransformerConfig struct {
	Arch            string
	BlockCount      int
	EmbeddingLength int
	FFNLength       int
	HeadCount       int
	HeadCountKV     int
	HeadDim         int
	RMSEpsilon      float64
	RopeFreqBase    float64
	RopeScaling     *RopeScaling
	ContextLength   int
	VocabSize       int
}

type Layer struct {
	AttnNorm  []float32
	AttnQNorm []float32
	AttnKNorm []float32

	Wq, Wk, Wv, Wo         *tensor.Mat
	WqBias, WkBias, WvBias []float32

	FfnNorm                 []float32
	FfnUp, FfnGate, FfnDown *tensor.Mat

	// kv cache, one kvStride-wide row per position
	k, v []float32
}

// Transformer is a pre-norm decoder with grouped-query attention, rotary
// position embeddings and a SwiGLU feed-forward block. It covers the llama,
// mistral and qwen checkpoint families.
type Transformer struct {
	Config     TransformerConfig
	Embeddings *tensor.Mat
	OutputNorm []float32
	Output     *tensor.Mat
	Layers     []Layer

	Pos int

	ropeInvFreq []float64
	scratch     scratchBuffers
}

type scratchBuffers struct {
	x, tmp   []float32
	q, k, v  []float32
	attnOut  []float32
	attnProj []float32
	scores   []float32
	ffnUp    []float32
	ffnGate  []float32
	ffnOut   []float32
	logits   []float32
}

func (m *Transformer) VocabSize() int { return m.Output.R }

// ForwardToken runs one token at position Pos and returns the logits for the
// next one. The returned slice is reused by the next call.
func (m *Transformer) ForwardToken(tok int) ([]float32, error) {
	if tok < 0 || tok >= m.Embeddings.R {
		return nil, fmt.Errorf("token id %d outside vocabulary of %d", tok, m.Embeddings.R)
	}
	if m.Pos >= m.Config.ContextLength {
		return nil, fmt.Errorf("context length %d exceeded", m.Config.ContextLength)
	}

	cfg := &m.Config
	eps := float32(cfg.RMSEpsilon)
	x := m.scratch.x
	copy(x, m.Embeddings.Row(tok))

	for i := range m.Layers {
		layer := &m.Layers[i]
		tensor.RMSNorm(m.scratch.tmp, x, layer.AttnNorm, eps)
		tensor.Add(x, m.attention(layer, m.scratch.tmp, m.Pos))

		tensor.RMSNorm(m.scratch.tmp, x, layer.FfnNorm, eps)
		tensor.Add(x, m.ffn(layer, m.scratch.tmp))
	}

	tensor.RMSNorm(x, x, m.OutputNorm, eps)
	tensor.MatVec(m.scratch.logits, m.Output, x)
	m.Pos++
	return m.scratch.logits, nil
}

// Reset rewinds to position zero and drops the kv cache.
func (m *Transformer) Reset() {
	m.Pos = 0
	for i := range m.Layers {
		m.Layers[i].k = m.Layers[i].k[:0]
		m.Layers[i].v = m.Layers[i].v[:0]
	}
}

func (m *Transformer) attention(layer *Layer, x []float32, pos int) []float32 {
	cfg := &m.Config
	nHead := cfg.HeadCount
	kvHeads := cfg.HeadCountKV
	headDim := cfg.HeadDim
	kvStride := kvHeads * headDim
	eps := float32(cfg.RMSEpsilon)

	q := m.scratch.q
	k := m.scratch.k
	v := m.scratch.v
	tensor.MatVec(q, layer.Wq, x)
	tensor.MatVec(k, layer.Wk, x)
	tensor.MatVec(v, layer.Wv, x)
	if len(layer.WqBias) > 0 {
		tensor.Add(q, layer.WqBias)
	}
	if len(layer.WkBias) > 0 {
		tensor.Add(k, layer.WkBias)
	}
	if len(layer.WvBias) > 0 {
		tensor.Add(v, layer.WvBias)
	}

	if len(layer.AttnQNorm) > 0 {
		for h := range nHead {
			head := q[h*headDim : (h+1)*headDim]
			tensor.RMSNorm(head, head, layer.AttnQNorm, eps)
		}
	}
	if len(layer.AttnKNorm) > 0 {
		for h := range kvHeads {
			head := k[h*headDim : (h+1)*headDim]
			tensor.RMSNorm(head, head, layer.AttnKNorm, eps)
		}
	}

	tensor.ApplyRoPE(q, nHead, headDim, pos, m.ropeInvFreq)
	tensor.ApplyRoPE(k, kvHeads, headDim, pos, m.ropeInvFreq)

	layer.k = append(layer.k[:pos*kvStride], k...)
	layer.v = append(layer.v[:pos*kvStride], v...)

	if cap(m.scratch.scores) < pos+1 {
		m.scratch.scores = make([]float32, pos+1, 2*(pos+1))
	}
	scores := m.scratch.scores[:pos+1]
	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	out := m.scratch.attnOut
	clear(out)

	for h := range nHead {
		kvHead := h * kvHeads / nHead
		qh := q[h*headDim : (h+1)*headDim]
		for t := 0; t <= pos; t++ {
			off := t*kvStride + kvHead*headDim
			scores[t] = tensor.Dot(qh, layer.k[off:off+headDim]) * scale
		}
		tensor.Softmax(scores)
		oh := out[h*headDim : (h+1)*headDim]
		for t := 0; t <= pos; t++ {
			off := t*kvStride + kvHead*headDim
			tensor.Axpy(oh, scores[t], layer.v[off:off+headDim])
		}
	}

	tensor.MatVec(m.scratch.attnProj, layer.Wo, out)
	return m.scratch.attnProj
}

func (m *Transformer) ffn(layer *Layer, x []float32) []float32 {
	tensor.MatVec(m.scratch.ffnUp, layer.FfnUp, x)
	tensor.MatVec(m.scratch.ffnGate, layer.FfnGate, x)
	for i := range m.scratch.ffnGate {
		m.scratch.ffnGate[i] = tensor.Silu(m.scratch.ffnGate[i]) * m.scratch.ffnUp[i]
	}
	tensor.MatVec(m.scratch.ffnOut, layer.FfnDown, m.scratch.ffnGate)
	return m.scratch.ffnOut
}

func (m *Transformer) initScratch() {
	cfg := &m.Config
	embd := cfg.EmbeddingLength
	qDim := cfg.HeadCount * cfg.HeadDim
	kv := cfg.HeadCountKV * cfg.HeadDim
	m.scratch = scratchBuffers{
		x:        make([]float32, embd),
		tmp:      make([]float32, embd),
		q:        make([]float32, qDim),
		k:        make([]float32, kv),
		v:        make([]float32, kv),
		attnOut:  make([]float32, qDim),
		attnProj: make([]float32, embd),
		ffnUp:    make([]float32, cfg.FFNLength),
		ffnGate:  make([]float32, cfg.FFNLength),
		ffnOut:   make([]float32, embd),
		logits:   make([]float32, m.Output.R),
	}
}
