package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nexttoken/internal/safetensors"
	"github.com/samcharles93/nexttoken/internal/tensor"
)

const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"

	ArchPooled = "PooledLM"

	tensorEmbed    = "model.embed_tokens.weight"
	tensorHead     = "lm_head.weight"
	tensorHeadBias = "lm_head.bias"
)

// Config is the subset of a Hugging Face config.json the loader reads.
type Config struct {
	Architectures []string `json:"architectures"`
	ModelType     string   `json:"model_type"`
	VocabSize     int      `json:"vocab_size"`
	HiddenSize    int      `json:"hidden_size"`
}

// Arch returns the first declared architecture.
func (c Config) Arch() string {
	if len(c.Architectures) == 0 {
		return ""
	}
	return c.Architectures[0]
}

// ReadConfig parses config.json in dir. A missing file yields a zero Config.
func ReadConfig(dir string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	return cfg, nil
}

// Load reads the checkpoint in dir. A config.json declaring PooledLM, or no
// config at all, loads a PooledLM; any other config is resolved to a
// transformer architecture and loaded from model.safetensors or its sharded
// index.
func Load(dir string) (Model, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	pooled := raw == nil
	if !pooled {
		var head Config
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
		}
		pooled = head.Arch() == ArchPooled
	}
	if pooled {
		m, err := LoadPooled(dir)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	m, err := LoadTransformer(dir, raw)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadTransformer builds a Transformer from the config.json bytes and the
// weights in dir.
func LoadTransformer(dir string, configJSON []byte) (*Transformer, error) {
	cfg, err := parseHFConfig(configJSON)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	spec, err := detectArch(cfg)
	if err != nil {
		return nil, err
	}
	src, err := openWeights(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return loadTransformer(cfg, spec, src)
}

// LoadPooled reads a PooledLM from dir/model.safetensors. When config.json is
// present its architecture and sizes must agree with the weights.
func LoadPooled(dir string) (*PooledLM, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}
	if arch := cfg.Arch(); arch != "" && arch != ArchPooled {
		return nil, fmt.Errorf("unsupported architecture %q", arch)
	}

	f, err := safetensors.Open(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	emb, err := readMat(f, tensorEmbed)
	if err != nil {
		return nil, err
	}
	head, err := readMat(f, tensorHead)
	if err != nil {
		return nil, err
	}
	var bias []float32
	if _, ok := f.Tensor(tensorHeadBias); ok {
		if bias, _, err = f.F32(tensorHeadBias); err != nil {
			return nil, err
		}
	}

	m, err := FromWeights(emb, head, bias)
	if err != nil {
		return nil, err
	}
	if cfg.VocabSize > 0 && cfg.VocabSize != m.Vocab {
		return nil, fmt.Errorf("config vocab_size %d does not match weights (%d)", cfg.VocabSize, m.Vocab)
	}
	if cfg.HiddenSize > 0 && cfg.HiddenSize != m.Hidden {
		return nil, fmt.Errorf("config hidden_size %d does not match weights (%d)", cfg.HiddenSize, m.Hidden)
	}
	return m, nil
}

func readMat(f *safetensors.File, name string) (tensor.Mat, error) {
	data, info, err := f.F32(name)
	if err != nil {
		return tensor.Mat{}, err
	}
	if len(info.Shape) != 2 {
		return tensor.Mat{}, fmt.Errorf("tensor %s: expected 2 dims, got %v", name, info.Shape)
	}
	return tensor.FromData(info.Shape[0], info.Shape[1], data)
}

// Save writes m and a matching config.json into dir.
func Save(dir string, m *PooledLM) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	cfg := Config{
		Architectures: []string{ArchPooled},
		ModelType:     "pooled",
		VocabSize:     m.Vocab,
		HiddenSize:    m.Hidden,
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), raw, 0o644); err != nil {
		return err
	}
	return safetensors.WriteFile(filepath.Join(dir, WeightsFile), map[string]safetensors.Tensor{
		tensorEmbed:    {Shape: []int{m.Vocab, m.Hidden}, Data: m.Emb.Data},
		tensorHead:     {Shape: []int{m.Vocab, m.Hidden}, Data: m.Head.Data},
		tensorHeadBias: {Shape: []int{m.Vocab}, Data: m.Bias},
	}, map[string]string{"format": "pt"})
}
