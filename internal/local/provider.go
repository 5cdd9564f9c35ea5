// Package local computes next-token distributions with an in-process model.
package local

import (
	"context"
	"fmt"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/logits"
	"github.com/samcharles93/nexttoken/internal/model"
	"github.com/samcharles93/nexttoken/internal/tokenizer"
)

// Provider runs the prompt through the handle's model and returns the
// softmax over the whole tokenizer vocabulary. The request's model field is
// ignored: a provider serves exactly the model its handle loaded.
type Provider struct {
	handle *Handle
	log    logger.Logger
}

func NewProvider(h *Handle, log logger.Logger) *Provider {
	if log == nil {
		log = logger.Discard()
	}
	return &Provider{handle: h, log: log}
}

func (p *Provider) Compute(ctx context.Context, req distribution.Request) (distribution.Source, error) {
	var src distribution.Source
	err := p.handle.with(func(b *Bundle) error {
		if err := ctx.Err(); err != nil {
			return distribution.Inference("request canceled", err)
		}
		probs, err := nextTokenProbs(b, req.Text, req.Temperature)
		if err != nil {
			return err
		}
		tok := b.Tokenizer
		src = distribution.FullDistribution{
			Probs:  probs,
			Decode: tok.DecodeToken,
		}
		p.log.Debug("local forward pass done", "model", b.Name, "vocab", len(probs))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// ListModels reports the loaded model, or nothing while loading.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if name := p.handle.Name(); name != "" {
		return []string{name}, nil
	}
	if err := p.handle.Err(); err != nil {
		return nil, err
	}
	return []string{}, nil
}

// nextTokenProbs encodes text, feeds every token through a freshly reset
// model and converts the last logits to probabilities.
func nextTokenProbs(b *Bundle, text string, temperature float64) ([]float64, error) {
	ids, err := safeEncode(b.Tokenizer, text)
	if err != nil {
		return nil, distribution.Inference("encode prompt", err)
	}
	if len(ids) == 0 {
		return nil, distribution.Inference("prompt encoded to zero tokens", nil)
	}
	if err := safeReset(b.Model); err != nil {
		return nil, distribution.Inference("reset model", err)
	}
	var last []float32
	for _, id := range ids {
		if last, err = safeForward(b.Model, id); err != nil {
			return nil, distribution.Inference("forward pass", err)
		}
	}

	// Ids past the tokenizer vocabulary are padding rows and never decode.
	if n := b.Tokenizer.VocabSize(); n > 0 && len(last) > n {
		last = last[:n]
	}
	probs, err := logits.Softmax(last, temperature)
	if err != nil {
		return nil, distribution.Inference("softmax", err)
	}
	return probs, nil
}

func safeEncode(tok tokenizer.Tokenizer, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text)
}

func safeReset(m model.Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Reset: %v", rec)
		}
	}()
	m.Reset()
	return nil
}

func safeForward(m model.Model, id int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ForwardToken: %v", rec)
		}
	}()
	return m.ForwardToken(id)
}
