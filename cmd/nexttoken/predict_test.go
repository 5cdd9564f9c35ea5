package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/local"
	"github.com/samcharles93/nexttoken/internal/model"
)

func TestWriteResultTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := writeResultTable(&buf, distribution.Result{
		Candidates: []distribution.Candidate{{Token: " Paris", Prob: 0.8}, {Token: " the", Prob: 0.05}},
		Sampled:    " Paris",
	})
	if err != nil {
		t.Fatalf("writeResultTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{`" Paris"`, "0.800000", "0.050000", `sampled: " Paris"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "warning:") {
		t.Fatalf("unexpected warning line:\n%s", out)
	}
}

func TestWriteResultJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := writeResultJSON(&buf, distribution.Result{
		Candidates: []distribution.Candidate{{Token: "Paris", Prob: 1}},
		Sampled:    "Paris",
		Warning:    distribution.WarningNoAlternatives,
		Degraded:   true,
	})
	if err != nil {
		t.Fatalf("writeResultJSON() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"warning": "Top-K alternative`) {
		t.Fatalf("unexpected JSON:\n%s", buf.String())
	}
}

const tinyTokenizer = `{"model":{"type":"BPE","vocab":{"a":0,"b":1,"c":2},"merges":[]}}`

func writeTinyModel(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := model.Save(dir, model.NewPooledLM(3, 4, 1)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, local.TokenizerFile), []byte(tinyTokenizer), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestResolveLocalModel(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	only := writeTinyModel(t, root, "only")

	if dir, err := resolveLocalModel("", root); err != nil || dir != only {
		t.Fatalf("single model: %q, %v", dir, err)
	}
	writeTinyModel(t, root, "second")
	if _, err := resolveLocalModel("", root); err == nil || !strings.Contains(err.Error(), "multiple models") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if dir, err := resolveLocalModel("second", root); err != nil || dir != filepath.Join(root, "second") {
		t.Fatalf("named model: %q, %v", dir, err)
	}
	if _, err := resolveLocalModel("", ""); err == nil {
		t.Fatal("expected error without model or models path")
	}
	if _, err := resolveLocalModel("", t.TempDir()); err == nil {
		t.Fatal("expected error for empty models dir")
	}
}

func TestLocalBackendPredicts(t *testing.T) {
	dir := writeTinyModel(t, t.TempDir(), "tiny")
	provider, modelRef, modelsPath, device, seed = providerLocal, dir, "", "auto", 1
	topK, temperature = 2, 0

	b, err := newBackend(context.Background())
	if err != nil {
		t.Fatalf("newBackend() error = %v", err)
	}
	if h := b.health(); h.Status != "loading" {
		t.Fatalf("health before load = %+v", h)
	}
	if err := b.start(context.Background(), true); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	if h := b.health(); h.Status != "ready" || h.Model != "tiny" {
		t.Fatalf("health after load = %+v", h)
	}

	d := b.defaults()
	res, err := b.service.NextToken(context.Background(), distribution.Request{Text: "ab", TopK: d.TopK, Temperature: d.Temperature})
	if err != nil {
		t.Fatalf("NextToken() error = %v", err)
	}
	if len(res.Candidates) != 2 || res.Candidates[0].Prob != 1 || res.Sampled != res.Candidates[0].Token {
		t.Fatalf("unexpected greedy result: %+v", res)
	}
}

func TestNewBackendRejects(t *testing.T) {
	cases := map[string]func(){
		"unknown provider": func() { provider, device = "gpu-cluster", "auto" },
		"bad device":       func() { provider, device, modelRef = providerLocal, "cuda", "./x" },
		"no model":         func() { provider, device, modelRef, modelsPath = providerLocal, "auto", "", "" },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			set()
			if _, err := newBackend(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRemoteBackendDefaults(t *testing.T) {
	provider, modelRef, remoteURL, remoteTimeout = providerRemote, "llama3.2", "http://gpu-box:11434/", 0
	topK, temperature = 4, 0.3

	b, err := newBackend(context.Background())
	if err != nil {
		t.Fatalf("newBackend() error = %v", err)
	}
	defer b.close()
	if b.start != nil || b.device != "http://gpu-box:11434" {
		t.Fatalf("unexpected remote backend: %+v", b)
	}
	if d := b.defaults(); d.Model != "llama3.2" || d.TopK != 4 || d.Temperature != 0.3 || !d.Raw {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
