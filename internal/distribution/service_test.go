package distribution

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/logits"
)

type stubProvider struct {
	calls int
	src   Source
	err   error
	last  Request
}

func (p *stubProvider) Compute(ctx context.Context, req Request) (Source, error) {
	p.calls++
	p.last = req
	return p.src, p.err
}

type stubLister struct {
	models []string
	err    error
}

func (l stubLister) ListModels(ctx context.Context) ([]string, error) {
	return l.models, l.err
}

func newTestService(p Provider, l ModelLister) *Service {
	return NewService(ServiceConfig{
		ProviderName: "test",
		Provider:     p,
		Lister:       l,
		Formatter:    NewFormatter(logits.NewSampler(1)),
		Logger:       logger.Discard(),
	})
}

func TestNextTokenRejectsEmptyTextBeforeProvider(t *testing.T) {
	t.Parallel()
	p := &stubProvider{src: NoProbabilityData{Token: "x"}}
	svc := newTestService(p, nil)

	_, err := svc.NextToken(context.Background(), Request{Text: "", TopK: 3, Temperature: 0.7})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times for invalid input", p.calls)
	}
}

func TestNextTokenRejectsNegativeTemperature(t *testing.T) {
	t.Parallel()
	p := &stubProvider{src: NoProbabilityData{Token: "x"}}
	svc := newTestService(p, nil)

	_, err := svc.NextToken(context.Background(), Request{Text: "hi", TopK: 3, Temperature: -0.1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called for invalid input")
	}
}

func TestNextTokenPassesProviderErrorsThrough(t *testing.T) {
	t.Parallel()
	for _, want := range []error{
		ModelUnavailable("loading"),
		Inference("forward", errors.New("oom")),
		UpstreamUnreachable("http://127.0.0.1:1", errors.New("connection refused")),
		UpstreamTimeout("http://x", context.DeadlineExceeded),
		UpstreamError(500, `{"error":"model crashed"}`),
	} {
		svc := newTestService(&stubProvider{err: want}, nil)
		_, err := svc.NextToken(context.Background(), Request{Text: "hi", TopK: 1, Temperature: 1})
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

func TestNextTokenDegradedIsSuccess(t *testing.T) {
	t.Parallel()
	svc := newTestService(&stubProvider{src: NoProbabilityData{Token: "Paris"}}, nil)
	res, err := svc.NextToken(context.Background(), Request{Text: "The capital of France is", TopK: 3, Temperature: 0.7})
	if err != nil {
		t.Fatalf("NextToken() error = %v", err)
	}
	if len(res.Candidates) != 1 || res.Warning == "" {
		t.Fatalf("expected one candidate plus a warning, got %+v", res)
	}
}

func TestNextTokenForwardsRequest(t *testing.T) {
	t.Parallel()
	p := &stubProvider{src: FullDistribution{Probs: []float64{0.7, 0.3}, Decode: DecodeList([]string{"a", "b"})}}
	svc := newTestService(p, nil)
	req := Request{Text: "x", TopK: 5, Temperature: 0.3, Model: "m", Raw: true}
	res, err := svc.NextToken(context.Background(), req)
	if err != nil {
		t.Fatalf("NextToken() error = %v", err)
	}
	if p.last != req {
		t.Fatalf("provider saw %+v, want %+v", p.last, req)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected clamp to distribution size, got %d", len(res.Candidates))
	}
}

func TestListModelsIsBestEffort(t *testing.T) {
	t.Parallel()
	svc := newTestService(&stubProvider{}, stubLister{err: errors.New("cannot connect")})
	list := svc.ListModels(context.Background())
	if list.Models == nil || len(list.Models) != 0 {
		t.Fatalf("expected empty non-nil model list, got %#v", list.Models)
	}
	if list.Error == "" {
		t.Fatalf("expected error field to be set")
	}

	svc = newTestService(&stubProvider{}, stubLister{models: []string{"llama3.2", "qwen3"}})
	list = svc.ListModels(context.Background())
	if len(list.Models) != 2 || list.Error != "" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestListModelsWithoutLister(t *testing.T) {
	t.Parallel()
	svc := newTestService(&stubProvider{}, nil)
	if list := svc.ListModels(context.Background()); len(list.Models) != 0 || list.Error != "" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestClass(t *testing.T) {
	t.Parallel()
	cases := map[string]error{
		"ok":                   nil,
		"invalid_input":        InvalidInput("x"),
		"model_unavailable":    ModelUnavailable("x"),
		"inference_error":      Inference("x", nil),
		"upstream_unreachable": UpstreamUnreachable("x", nil),
		"upstream_timeout":     UpstreamTimeout("x", nil),
		"upstream_error":       UpstreamError(502, ""),
		"canceled":             context.Canceled,
		"internal_error":       errors.New("other"),
	}
	for want, err := range cases {
		if got := Class(err); got != want {
			t.Errorf("Class(%v) = %q, want %q", err, got, want)
		}
	}
}
