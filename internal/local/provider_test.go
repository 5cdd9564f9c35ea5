package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/logits"
)

var words = []string{"<unk>", "The", " capital", " of", " France", " is", " Paris", " Lyon", " the", " a"}

// wordTokenizer splits on spaces, keeping the leading space on each word.
type wordTokenizer struct {
	fail  bool
	empty bool
}

func (w wordTokenizer) Encode(text string) ([]int, error) {
	if w.fail {
		return nil, errors.New("tokenizer exploded")
	}
	if w.empty {
		return nil, nil
	}
	var ids []int
	for i, part := range strings.Split(text, " ") {
		if i > 0 {
			part = " " + part
		}
		id := 0
		for j, v := range words {
			if v == part {
				id = j
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (w wordTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		s, err := w.DecodeToken(id)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (wordTokenizer) DecodeToken(id int) (string, error) {
	return distribution.DecodeList(words)(id)
}

func (wordTokenizer) VocabSize() int { return len(words) }

// capitalModel predicts " Paris" after " is" and otherwise prefers " the".
type capitalModel struct {
	last    int
	inUse   atomic.Int32
	overlap atomic.Bool
	panics  bool
}

func (m *capitalModel) ForwardToken(id int) ([]float32, error) {
	if m.panics {
		panic("kernel fault")
	}
	if m.inUse.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inUse.Add(-1)
	m.last = id
	out := make([]float32, len(words)+2) // two padding rows
	out[8] = 1
	if id == 5 {
		out[6], out[7], out[8], out[9] = 6, 3, 1.5, 1
	}
	out[len(out)-1] = 50
	return out, nil
}

func (m *capitalModel) Reset()         { m.last = 0 }
func (m *capitalModel) VocabSize() int { return len(words) + 2 }

func newService(h *Handle) *distribution.Service {
	return distribution.NewService(distribution.ServiceConfig{
		ProviderName: "local",
		Provider:     NewProvider(h, logger.Discard()),
		Formatter:    distribution.NewFormatter(logits.NewSampler(3)),
		Logger:       logger.Discard(),
	})
}

func readyHandle(tok wordTokenizer, m *capitalModel) *Handle {
	return Loaded(&Bundle{Name: "capital-test", Device: DeviceCPU, Model: m, Tokenizer: tok})
}

func TestCapitalOfFrance(t *testing.T) {
	t.Parallel()
	svc := newService(readyHandle(wordTokenizer{}, &capitalModel{}))

	res, err := svc.NextToken(context.Background(), distribution.Request{
		Text:        "The capital of France is",
		TopK:        3,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("NextToken() error = %v", err)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", res.Candidates)
	}
	if res.Candidates[0].Token != " Paris" {
		t.Fatalf("expected \" Paris\" on top, got %+v", res.Candidates)
	}
	var sum float64
	for i, c := range res.Candidates {
		sum += c.Prob
		if i > 0 && c.Prob > res.Candidates[i-1].Prob {
			t.Fatalf("not sorted: %+v", res.Candidates)
		}
	}
	if sum > 1+1e-6 {
		t.Fatalf("sum = %v", sum)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning %q", res.Warning)
	}
}

func TestGreedyIsDeterministic(t *testing.T) {
	t.Parallel()
	svc := newService(readyHandle(wordTokenizer{}, &capitalModel{}))
	req := distribution.Request{Text: "The capital of France is", TopK: 2, Temperature: 0}
	for range 10 {
		res, err := svc.NextToken(context.Background(), req)
		if err != nil {
			t.Fatalf("NextToken() error = %v", err)
		}
		if res.Sampled != " Paris" || res.Candidates[0] != (distribution.Candidate{Token: " Paris", Prob: 1}) {
			t.Fatalf("unexpected greedy result: %+v", res)
		}
	}
}

func TestPaddingRowsAreDropped(t *testing.T) {
	t.Parallel()
	p := NewProvider(readyHandle(wordTokenizer{}, &capitalModel{}), nil)
	src, err := p.Compute(context.Background(), distribution.Request{Text: "The", Temperature: 1})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	full, ok := src.(distribution.FullDistribution)
	if !ok {
		t.Fatalf("expected FullDistribution, got %T", src)
	}
	if len(full.Probs) != len(words) {
		t.Fatalf("len(Probs) = %d, want %d", len(full.Probs), len(words))
	}
}

func TestNotReadyFailsFast(t *testing.T) {
	t.Parallel()
	p := NewProvider(NewHandle(), nil)
	_, err := p.Compute(context.Background(), distribution.Request{Text: "x", Temperature: 1})
	if !errors.Is(err, distribution.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	models, err := p.ListModels(context.Background())
	if err != nil || len(models) != 0 {
		t.Fatalf("ListModels() = %v, %v", models, err)
	}
}

func TestFailedLoadIsUnavailable(t *testing.T) {
	t.Parallel()
	h := NewHandle()
	err := h.Load(context.Background(), func(context.Context) (*Bundle, error) {
		return nil, errors.New("weights missing")
	})
	if err == nil || h.State() != StateFailed {
		t.Fatalf("Load() = %v, state %v", err, h.State())
	}
	p := NewProvider(h, nil)
	if _, err := p.Compute(context.Background(), distribution.Request{Text: "x"}); !errors.Is(err, distribution.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if _, err := p.ListModels(context.Background()); err == nil {
		t.Fatal("expected ListModels to report the load error")
	}
}

func TestComputationFailuresAreInferenceErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]*Handle{
		"tokenizer error": readyHandle(wordTokenizer{fail: true}, &capitalModel{}),
		"empty encoding":  readyHandle(wordTokenizer{empty: true}, &capitalModel{}),
		"model panic":     readyHandle(wordTokenizer{}, &capitalModel{panics: true}),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewProvider(h, nil).Compute(context.Background(), distribution.Request{Text: "The", Temperature: 1})
			if !errors.Is(err, distribution.ErrInference) {
				t.Fatalf("expected ErrInference, got %v", err)
			}
		})
	}
}

func TestForwardPassesAreSerialized(t *testing.T) {
	t.Parallel()
	m := &capitalModel{}
	p := NewProvider(readyHandle(wordTokenizer{}, m), nil)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Compute(context.Background(), distribution.Request{Text: "The capital of France is", Temperature: 1})
		}()
	}
	wg.Wait()
	if m.overlap.Load() {
		t.Fatal("forward passes overlapped")
	}
}

func TestListModelsReportsLoadedName(t *testing.T) {
	t.Parallel()
	p := NewProvider(readyHandle(wordTokenizer{}, &capitalModel{}), nil)
	models, err := p.ListModels(context.Background())
	if err != nil || len(models) != 1 || models[0] != "capital-test" {
		t.Fatalf("ListModels() = %v, %v", models, err)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProvider(readyHandle(wordTokenizer{}, &capitalModel{}), nil)
	_, err := p.Compute(ctx, distribution.Request{Text: "The"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, distribution.ErrInference) || distribution.Class(err) != "inference_error" {
		t.Fatalf("canceled request should be an inference error, got %v (class %s)", err, distribution.Class(err))
	}
}
