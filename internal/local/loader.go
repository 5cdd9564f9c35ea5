package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/nexttoken/internal/model"
	"github.com/samcharles93/nexttoken/internal/tokenizer"
)

const (
	TokenizerFile       = "tokenizer.json"
	TokenizerConfigFile = "tokenizer_config.json"

	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
)

// ResolveDevice maps a requested device to the one the model runs on. The
// runtime has only CPU kernels, so auto resolves to cpu and accelerators are
// rejected.
func ResolveDevice(requested string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "", DeviceAuto, DeviceCPU:
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unsupported device %q (supported: auto, cpu)", requested)
	}
}

// Loader loads a model directory holding tokenizer.json, an optional
// tokenizer_config.json, config.json and model.safetensors (or its sharded
// index).
type Loader struct {
	Dir    string
	Device string
}

// Load implements LoadFunc.
func (l Loader) Load(ctx context.Context) (*Bundle, error) {
	device, err := ResolveDevice(l.Device)
	if err != nil {
		return nil, err
	}
	dir := filepath.Clean(strings.TrimSpace(l.Dir))
	if dir == "." || dir == "" {
		return nil, fmt.Errorf("model directory is required")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("model path is not a directory: %s", dir)
	}

	tok, err := tokenizer.LoadHF(filepath.Join(dir, TokenizerFile), filepath.Join(dir, TokenizerConfigFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := model.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if m.VocabSize() < tok.VocabSize() {
		return nil, fmt.Errorf("model vocabulary (%d) is smaller than tokenizer vocabulary (%d)", m.VocabSize(), tok.VocabSize())
	}
	return &Bundle{
		Name:      filepath.Base(dir),
		Device:    device,
		Model:     m,
		Tokenizer: tok,
	}, nil
}

// ResolveModelDir turns a model reference into a directory. References that
// look like paths are used as given; bare names are looked up in modelsDir.
func ResolveModelDir(ref, modelsDir string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("model is required")
	}
	if looksLikePath(ref) {
		return filepath.Clean(ref), nil
	}
	if modelsDir == "" {
		return "", fmt.Errorf("models-path is required to resolve model %q", ref)
	}
	cand := filepath.Join(modelsDir, ref)
	if isModelDir(cand) {
		return cand, nil
	}
	return "", fmt.Errorf("model %q not found in %s", ref, modelsDir)
}

// DiscoverModels lists the model directories directly under dir.
func DiscoverModels(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() && isModelDir(filepath.Join(dir, e.Name())) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func looksLikePath(v string) bool {
	return strings.ContainsRune(v, filepath.Separator) || strings.HasPrefix(v, ".") || filepath.IsAbs(v)
}

func isModelDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, TokenizerFile)); err != nil {
		return false
	}
	return model.HasWeights(dir)
}
