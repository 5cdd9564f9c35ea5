package local

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/model"
	"github.com/samcharles93/nexttoken/internal/safetensors"
)

const testTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"H": 0, "i": 1, "Ġ": 2, "Hi": 3, "Ġthere": 4, "t": 5, "h": 6, "e": 7, "r": 8},
		"merges": []
	},
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false}
}`

func writeModelDir(t *testing.T, root, name string, vocab int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := model.Save(dir, model.NewPooledLM(vocab, 4, 1)); err != nil {
		t.Fatalf("model.Save() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, TokenizerFile), []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoaderLoadsModelDirectory(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t, t.TempDir(), "tiny", 12)

	b, err := Loader{Dir: dir, Device: "auto"}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b.Name != "tiny" || b.Device != DeviceCPU {
		t.Fatalf("unexpected bundle: name=%q device=%q", b.Name, b.Device)
	}

	p := NewProvider(Loaded(b), nil)
	src, err := p.Compute(context.Background(), distribution.Request{Text: "Hi", Temperature: 0.7})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	full := src.(distribution.FullDistribution)
	if len(full.Probs) != 9 {
		t.Fatalf("expected tokenizer-sized distribution, got %d", len(full.Probs))
	}
	if tok, _ := full.Decode(4); tok != " there" {
		t.Fatalf("Decode(4) = %q", tok)
	}
}

// writeLlamaDir writes a one-layer llama checkpoint in the Hugging Face layout.
func writeLlamaDir(t *testing.T, dir string, vocab, hidden int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`{"architectures":["LlamaForCausalLM"],"model_type":"llama","hidden_size":%d,
		"intermediate_size":%d,"num_hidden_layers":1,"num_attention_heads":2,"num_key_value_heads":1,
		"vocab_size":%d,"max_position_embeddings":64,"rms_norm_eps":1e-5,"tie_word_embeddings":true}`,
		hidden, 2*hidden, vocab)
	if err := os.WriteFile(filepath.Join(dir, model.ConfigFile), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	seed := float32(0.37)
	fill := func(shape ...int) safetensors.Tensor {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			seed = seed*3.9*(1-seed) + 0.001
			data[i] = seed - 0.5
		}
		return safetensors.Tensor{Shape: shape, Data: data}
	}
	norm := func() safetensors.Tensor {
		data := make([]float32, hidden)
		for i := range data {
			data[i] = 1
		}
		return safetensors.Tensor{Shape: []int{hidden}, Data: data}
	}
	kv := hidden / 2
	tensors := map[string]safetensors.Tensor{
		"model.embed_tokens.weight":                      fill(vocab, hidden),
		"model.norm.weight":                              norm(),
		"model.layers.0.input_layernorm.weight":          norm(),
		"model.layers.0.post_attention_layernorm.weight": norm(),
		"model.layers.0.self_attn.q_proj.weight":         fill(hidden, hidden),
		"model.layers.0.self_attn.k_proj.weight":         fill(kv, hidden),
		"model.layers.0.self_attn.v_proj.weight":         fill(kv, hidden),
		"model.layers.0.self_attn.o_proj.weight":         fill(hidden, hidden),
		"model.layers.0.mlp.up_proj.weight":              fill(2*hidden, hidden),
		"model.layers.0.mlp.gate_proj.weight":            fill(2*hidden, hidden),
		"model.layers.0.mlp.down_proj.weight":            fill(hidden, 2*hidden),
	}
	if err := safetensors.WriteFile(filepath.Join(dir, model.WeightsFile), tensors, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, TokenizerFile), []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderServesLlamaCheckpoint(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "tiny-llama")
	writeLlamaDir(t, dir, 9, 8)

	names, err := DiscoverModels(root)
	if err != nil || !slices.Equal(names, []string{"tiny-llama"}) {
		t.Fatalf("DiscoverModels() = %v, %v", names, err)
	}
	b, err := Loader{Dir: dir}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := b.Model.(*model.Transformer); !ok {
		t.Fatalf("Model = %T, want *model.Transformer", b.Model)
	}

	p := NewProvider(Loaded(b), nil)
	src, err := p.Compute(context.Background(), distribution.Request{Text: "Hi there", Temperature: 1})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	full := src.(distribution.FullDistribution)
	var sum float64
	for _, q := range full.Probs {
		sum += q
	}
	if len(full.Probs) != 9 || math.Abs(sum-1) > 1e-9 {
		t.Fatalf("distribution over %d tokens sums to %v", len(full.Probs), sum)
	}

	again, err := p.Compute(context.Background(), distribution.Request{Text: "Hi there", Temperature: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(full.Probs, again.(distribution.FullDistribution).Probs) {
		t.Fatal("repeated prompt gave a different distribution")
	}
}

func TestLoaderRejectsBadInput(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	small := writeModelDir(t, root, "small", 4)

	cases := map[string]Loader{
		"missing dir":   {Dir: filepath.Join(root, "nope")},
		"empty dir":     {Dir: ""},
		"bad device":    {Dir: small, Device: "cuda"},
		"small vocab":   {Dir: small},
		"not directory": {Dir: filepath.Join(small, TokenizerFile)},
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := l.Load(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveDevice(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", DeviceCPU, true},
		{"auto", DeviceCPU, true},
		{" CPU ", DeviceCPU, true},
		{"cuda", "", false},
		{"mps", "", false},
	}
	for _, tc := range cases {
		got, err := ResolveDevice(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ResolveDevice(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestResolveAndDiscoverModels(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeModelDir(t, root, "beta", 12)
	writeModelDir(t, root, "alpha", 12)
	if err := os.MkdirAll(filepath.Join(root, "not-a-model"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := DiscoverModels(root)
	if err != nil {
		t.Fatalf("DiscoverModels() error = %v", err)
	}
	if !slices.Equal(names, []string{"alpha", "beta"}) {
		t.Fatalf("DiscoverModels() = %v", names)
	}

	dir, err := ResolveModelDir("alpha", root)
	if err != nil || dir != filepath.Join(root, "alpha") {
		t.Fatalf("ResolveModelDir(alpha) = %q, %v", dir, err)
	}
	if dir, err := ResolveModelDir("./some/path", ""); err != nil || dir != "some/path" {
		t.Fatalf("ResolveModelDir(path) = %q, %v", dir, err)
	}
	for _, ref := range []string{"", "missing"} {
		if _, err := ResolveModelDir(ref, root); err == nil {
			t.Fatalf("ResolveModelDir(%q) expected error", ref)
		}
	}
	if _, err := ResolveModelDir("alpha", ""); err == nil {
		t.Fatal("expected error without models dir")
	}
}

func TestHandleBackgroundLoad(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	h := NewHandle()
	h.Start(context.Background(), func(ctx context.Context) (*Bundle, error) {
		<-release
		return &Bundle{Name: "late", Model: &capitalModel{}, Tokenizer: wordTokenizer{}}, nil
	})

	if h.State() != StateLoading {
		t.Fatalf("State() = %v, want loading", h.State())
	}
	p := NewProvider(h, nil)
	if _, err := p.Compute(context.Background(), distribution.Request{Text: "The"}); !errors.Is(err, distribution.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable while loading, got %v", err)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if h.State() != StateReady || h.Name() != "late" {
		t.Fatalf("State() = %v, Name() = %q", h.State(), h.Name())
	}
	if _, err := p.Compute(context.Background(), distribution.Request{Text: "The", Temperature: 1}); err != nil {
		t.Fatalf("Compute() after load error = %v", err)
	}
}

func TestHandleRecoversLoaderPanic(t *testing.T) {
	t.Parallel()
	h := NewHandle()
	err := h.Load(context.Background(), func(context.Context) (*Bundle, error) { panic("bad weights") })
	if err == nil || h.State() != StateFailed {
		t.Fatalf("Load() = %v, state %v", err, h.State())
	}
}

func TestHandleWaitHonorsContext(t *testing.T) {
	t.Parallel()
	h := NewHandle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{StateLoading: "loading", StateReady: "ready", StateFailed: "failed"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
