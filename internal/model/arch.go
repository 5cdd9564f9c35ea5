package model

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// hfConfig is the part of a Hugging Face config.json the transformer loader
// reads.
type hfConfig struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`

	HiddenSize        int     `json:"hidden_size"`
	IntermediateSize  int     `json:"intermediate_size"`
	NumHiddenLayers   int     `json:"num_hidden_layers"`
	NumAttentionHeads int     `json:"num_attention_heads"`
	NumKeyValueHeads  int     `json:"num_key_value_heads"`
	HeadDim           int     `json:"head_dim"`
	RMSNormEps        float64 `json:"rms_norm_eps"`
	NormEps           float64 `json:"norm_eps"`
	VocabSize         int     `json:"vocab_size"`
	MaxPosition       int     `json:"max_position_embeddings"`
	RopeTheta         float64 `json:"rope_theta"`
	AttentionBias     bool    `json:"attention_bias"`
	TieWordEmbeddings *bool   `json:"tie_word_embeddings"`

	RopeScaling *ropeScaling `json:"rope_scaling"`

	NumLocalExperts  int `json:"num_local_experts"`
	NumExperts       int `json:"num_experts"`
	NumExpertsPerTok int `json:"num_experts_per_tok"`

	TextConfig *hfConfig `json:"text_config"`
}

type ropeScaling struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	LowFreqFactor                 float64 `json:"low_freq_factor"`
	HighFreqFactor                float64 `json:"high_freq_factor"`
}

func parseHFConfig(raw []byte) (*hfConfig, error) {
	var cfg hfConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.TextConfig != nil {
		mergeTextConfigMissing(&cfg, cfg.TextConfig)
	}
	return &cfg, nil
}

// mergeTextConfigMissing fills zero fields from a nested text_config, as
// multimodal checkpoints keep the language model sizes there.
func mergeTextConfigMissing(dst, text *hfConfig) {
	fill := func(d *int, v int) {
		if *d == 0 {
			*d = v
		}
	}
	fill(&dst.HiddenSize, text.HiddenSize)
	fill(&dst.IntermediateSize, text.IntermediateSize)
	fill(&dst.NumHiddenLayers, text.NumHiddenLayers)
	fill(&dst.NumAttentionHeads, text.NumAttentionHeads)
	fill(&dst.NumKeyValueHeads, text.NumKeyValueHeads)
	fill(&dst.HeadDim, text.HeadDim)
	fill(&dst.VocabSize, text.VocabSize)
	fill(&dst.MaxPosition, text.MaxPosition)
	if dst.RMSNormEps == 0 {
		dst.RMSNormEps = text.RMSNormEps
	}
	if dst.RopeTheta == 0 {
		dst.RopeTheta = text.RopeTheta
	}
	if dst.RopeScaling == nil {
		dst.RopeScaling = text.RopeScaling
	}
	if dst.TieWordEmbeddings == nil {
		dst.TieWordEmbeddings = text.TieWordEmbeddings
	}
}

func (c *hfConfig) rmsEpsilon() float64 {
	if c.RMSNormEps != 0 {
		return c.RMSNormEps
	}
	return c.NormEps
}

func (c *hfConfig) hasMoE() bool {
	return c.NumLocalExperts > 0 || c.NumExperts > 0 || c.NumExpertsPerTok > 0
}

// detectArch maps model_type and architectures to the tensor layout the
// transformer runtime knows how to load.
func detectArch(cfg *hfConfig) (*archSpec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	modelType := strings.ToLower(strings.TrimSpace(cfg.ModelType))
	archs := make([]string, 0, len(cfg.Architectures))
	for _, arch := range cfg.Architectures {
		archs = append(archs, strings.ToLower(arch))
	}
	hasArch := func(substr string) bool {
		if strings.Contains(modelType, substr) {
			return true
		}
		for _, arch := range archs {
			if strings.Contains(arch, substr) {
				return true
			}
		}
		return false
	}

	if cfg.hasMoE() {
		return nil, fmt.Errorf("moe models are not supported by this runtime")
	}

	switch {
	case hasArch("qwen3"):
		return qwen3Spec(), nil
	case hasArch("qwen2"):
		return qwen2Spec(), nil
	case hasArch("mistral"):
		return mistralSpec(), nil
	case hasArch("llama"):
		return llamaSpec(), nil
	default:
		return nil, fmt.Errorf("unsupported model_type %q (architectures=%v)", cfg.ModelType, cfg.Architectures)
	}
}
