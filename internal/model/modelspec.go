package model

import "fmt"

type archNames struct {
	embedding        string
	outputNorm       string
	outputCandidates []string

	attnNorm func(layer int) string
	ffnNorm  func(layer int) string

	qNormCandidates func(layer int) []string
	kNormCandidates func(layer int) []string

	wq func(layer int) string
	wk func(layer int) string
	wv func(layer int) string
	wo func(layer int) string

	wqBias func(layer int) string
	wkBias func(layer int) string
	wvBias func(layer int) string

	ffnUp   func(layer int) string
	ffnGate func(layer int) string
	ffnDown func(layer int) string
}

type archSpec struct {
	Name      string
	HasQKNorm bool
	// HasQKVBias loads q/k/v projection biases when the checkpoint has them.
	HasQKVBias bool

	Names archNames
}

func layerTensor(format string) func(int) string {
	return func(layer int) string { return fmt.Sprintf(format, layer) }
}

// decoderNames is the model.layers.N layout shared by every supported arch.
// The last output candidate covers tied embeddings.
func decoderNames() archNames {
	return archNames{
		embedding:  "model.embed_tokens.weight",
		outputNorm: "model.norm.weight",
		outputCandidates: []string{
			"lm_head.weight",
			"model.lm_head.weight",
			"output.weight",
			"model.output.weight",
			"model.embed_tokens.weight",
		},
		attnNorm: layerTensor("model.layers.%d.input_layernorm.weight"),
		ffnNorm:  layerTensor("model.layers.%d.post_attention_layernorm.weight"),
		wq:       layerTensor("model.layers.%d.self_attn.q_proj.weight"),
		wk:       layerTensor("model.layers.%d.self_attn.k_proj.weight"),
		wv:       layerTensor("model.layers.%d.self_attn.v_proj.weight"),
		wo:       layerTensor("model.layers.%d.self_attn.o_proj.weight"),
		wqBias:   layerTensor("model.layers.%d.self_attn.q_proj.bias"),
		wkBias:   layerTensor("model.layers.%d.self_attn.k_proj.bias"),
		wvBias:   layerTensor("model.layers.%d.self_attn.v_proj.bias"),
		ffnUp:    layerTensor("model.layers.%d.mlp.up_proj.weight"),
		ffnGate:  layerTensor("model.layers.%d.mlp.gate_proj.weight"),
		ffnDown:  layerTensor("model.layers.%d.mlp.down_proj.weight"),
	}
}

func llamaSpec() *archSpec {
	return &archSpec{Name: "llama", Names: decoderNames()}
}

func mistralSpec() *archSpec {
	return &archSpec{Name: "mistral", Names: decoderNames()}
}

func qwen2Spec() *archSpec {
	return &archSpec{Name: "qwen2", HasQKVBias: true, Names: decoderNames()}
}

func qwen3Spec() *archSpec {
	names := decoderNames()
	names.qNormCandidates = func(layer int) []string {
		return []string{
			fmt.Sprintf("model.layers.%d.self_attn.q_norm.weight", layer),
			fmt.Sprintf("model.layers.%d.self_attn.q_layernorm.weight", layer),
		}
	}
	names.kNormCandidates = func(layer int) []string {
		return []string{
			fmt.Sprintf("model.layers.%d.self_attn.k_norm.weight", layer),
			fmt.Sprintf("model.layers.%d.self_attn.k_layernorm.weight", layer),
		}
	}
	return &archSpec{Name: "qwen3", HasQKNorm: true, Names: names}
}
