package model

import (
	"fmt"

	"github.com/samcharles93/nexttoken/internal/tensor"
)

// maxContextDefault bounds positions when config.json omits
// max_position_embeddings.
const maxContextDefault = 4096

func loadTransformer(cfg *hfConfig, spec *archSpec, src tensorSource) (*Transformer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if spec == nil {
		return nil, fmt.Errorf("nil arch spec")
	}
	names := spec.Names

	if cfg.NumHiddenLayers <= 0 {
		return nil, fmt.Errorf("num_hidden_layers must be set")
	}
	headCount := cfg.NumAttentionHeads
	if headCount <= 0 {
		return nil, fmt.Errorf("num_attention_heads must be set")
	}
	if cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("hidden_size must be set")
	}
	kvHeads := cfg.NumKeyValueHeads
	if kvHeads <= 0 {
		kvHeads = headCount
	}
	if headCount%kvHeads != 0 {
		return nil, fmt.Errorf("num_attention_heads %d is not a multiple of num_key_value_heads %d", headCount, kvHeads)
	}
	headDim := cfg.HeadDim
	if headDim <= 0 {
		if cfg.HiddenSize%headCount != 0 {
			return nil, fmt.Errorf("hidden_size must be divisible by num_attention_heads when head_dim is unset")
		}
		headDim = cfg.HiddenSize / headCount
	}
	if headDim%2 != 0 {
		return nil, fmt.Errorf("head_dim %d must be even", headDim)
	}
	rmsEps := cfg.rmsEpsilon()
	if rmsEps == 0 {
		return nil, fmt.Errorf("norm epsilon missing in config")
	}
	ctxLen := cfg.MaxPosition
	if ctxLen <= 0 {
		ctxLen = maxContextDefault
	}

	emb, err := loadMat(src, names.embedding)
	if err != nil {
		return nil, err
	}
	if emb.C != cfg.HiddenSize {
		return nil, fmt.Errorf("%s: width %d does not match hidden_size %d", names.embedding, emb.C, cfg.HiddenSize)
	}
	outNorm, err := loadVec(src, names.outputNorm)
	if err != nil {
		return nil, err
	}
	if len(outNorm) != cfg.HiddenSize {
		return nil, fmt.Errorf("%s: length %d does not match hidden_size %d", names.outputNorm, len(outNorm), cfg.HiddenSize)
	}
	candidates := names.outputCandidates
	if cfg.TieWordEmbeddings != nil && *cfg.TieWordEmbeddings {
		candidates = []string{names.embedding}
	}
	output, _, err := loadMatCandidates(src, candidates)
	if err != nil {
		return nil, err
	}
	if output == nil {
		return nil, fmt.Errorf("missing output projection (tried %v)", candidates)
	}
	if output.C != cfg.HiddenSize {
		return nil, fmt.Errorf("output projection width %d does not match hidden_size %d", output.C, cfg.HiddenSize)
	}
	if cfg.VocabSize > 0 && output.R != cfg.VocabSize {
		return nil, fmt.Errorf("config vocab_size %d does not match output projection (%d)", cfg.VocabSize, output.R)
	}

	ffnLength := cfg.IntermediateSize
	if ffnLength <= 0 {
		if shape, ok := src.TensorShape(names.ffnGate(0)); ok && len(shape) == 2 {
			ffnLength = shape[0]
		}
	}
	if ffnLength <= 0 {
		return nil, fmt.Errorf("intermediate_size missing and could not infer ffn length")
	}

	tc := TransformerConfig{
		Arch:            spec.Name,
		BlockCount:      cfg.NumHiddenLayers,
		EmbeddingLength: cfg.HiddenSize,
		FFNLength:       ffnLength,
		HeadCount:       headCount,
		HeadCountKV:     kvHeads,
		HeadDim:         headDim,
		RMSEpsilon:      rmsEps,
		RopeFreqBase:    cfg.RopeTheta,
		RopeScaling:     ropeScalingForConfig(cfg),
		ContextLength:   ctxLen,
		VocabSize:       output.R,
	}

	layers := make([]Layer, tc.BlockCount)
	for i := range layers {
		if err := loadLayer(&layers[i], i, cfg, spec, src, tc); err != nil {
			return nil, err
		}
	}

	m := &Transformer{
		Config:     tc,
		Embeddings: emb,
		OutputNorm: outNorm,
		Output:     output,
		Layers:     layers,
	}
	m.ropeInvFreq = ropeInvFreq(headDim, tc.RopeFreqBase, tc.RopeScaling)
	m.initScratch()
	return m, nil
}

func loadLayer(layer *Layer, i int, cfg *hfConfig, spec *archSpec, src tensorSource, tc TransformerConfig) error {
	names := spec.Names
	var err error

	if layer.AttnNorm, err = loadVec(src, names.attnNorm(i)); err != nil {
		return err
	}
	if layer.FfnNorm, err = loadVec(src, names.ffnNorm(i)); err != nil {
		return err
	}

	if spec.HasQKNorm {
		var used string
		layer.AttnQNorm, used, err = loadVecCandidates(src, names.qNormCandidates(i))
		if err != nil {
			return err
		}
		if used == "" {
			return fmt.Errorf("layer %d: missing q norm (tried %v)", i, names.qNormCandidates(i))
		}
		layer.AttnKNorm, used, err = loadVecCandidates(src, names.kNormCandidates(i))
		if err != nil {
			return err
		}
		if used == "" {
			return fmt.Errorf("layer %d: missing k norm (tried %v)", i, names.kNormCandidates(i))
		}
	}

	for _, w := range []struct {
		dst  **tensor.Mat
		name string
	}{
		{&layer.Wq, names.wq(i)},
		{&layer.Wk, names.wk(i)},
		{&layer.Wv, names.wv(i)},
		{&layer.Wo, names.wo(i)},
		{&layer.FfnUp, names.ffnUp(i)},
		{&layer.FfnGate, names.ffnGate(i)},
		{&layer.FfnDown, names.ffnDown(i)},
	} {
		if *w.dst, err = loadMat(src, w.name); err != nil {
			return err
		}
	}

	if spec.HasQKVBias || cfg.AttentionBias {
		if layer.WqBias, err = loadOptionalVec(src, names.wqBias(i)); err != nil {
			return err
		}
		if layer.WkBias, err = loadOptionalVec(src, names.wkBias(i)); err != nil {
			return err
		}
		if layer.WvBias, err = loadOptionalVec(src, names.wvBias(i)); err != nil {
			return err
		}
	}

	hidden := tc.EmbeddingLength
	qDim := tc.HeadCount * tc.HeadDim
	kvDim := tc.HeadCountKV * tc.HeadDim
	checks := []struct {
		name       string
		m          *tensor.Mat
		rows, cols int
	}{
		{"q_proj", layer.Wq, qDim, hidden},
		{"k_proj", layer.Wk, kvDim, hidden},
		{"v_proj", layer.Wv, kvDim, hidden},
		{"o_proj", layer.Wo, hidden, qDim},
		{"up_proj", layer.FfnUp, tc.FFNLength, hidden},
		{"gate_proj", layer.FfnGate, tc.FFNLength, hidden},
		{"down_proj", layer.FfnDown, hidden, tc.FFNLength},
	}
	for _, c := range checks {
		if c.m.R != c.rows || c.m.C != c.cols {
			return fmt.Errorf("layer %d: %s shape [%d %d], want [%d %d]", i, c.name, c.m.R, c.m.C, c.rows, c.cols)
		}
	}
	for _, v := range []struct {
		name string
		vec  []float32
		want int
	}{
		{"input_layernorm", layer.AttnNorm, hidden},
		{"post_attention_layernorm", layer.FfnNorm, hidden},
	} {
		if len(v.vec) != v.want {
			return fmt.Errorf("layer %d: %s length %d, want %d", i, v.name, len(v.vec), v.want)
		}
	}
	if layer.AttnQNorm != nil && (len(layer.AttnQNorm) != tc.HeadDim || len(layer.AttnKNorm) != tc.HeadDim) {
		return fmt.Errorf("layer %d: q/k norm length must equal head_dim %d", i, tc.HeadDim)
	}
	for _, b := range []struct {
		name string
		vec  []float32
		want int
	}{
		{"q_proj.bias", layer.WqBias, qDim},
		{"k_proj.bias", layer.WkBias, kvDim},
		{"v_proj.bias", layer.WvBias, kvDim},
	} {
		if b.vec != nil && len(b.vec) != b.want {
			return fmt.Errorf("layer %d: %s length %d, want %d", i, b.name, len(b.vec), b.want)
		}
	}
	return nil
}
