// Package model defines the language-model contract used by the local
// provider and the runtimes behind it: a llama-family transformer loaded from
// Hugging Face safetensors checkpoints and a small pooled model used as a
// fixture.
package model

// Model is an autoregressive language model.
type Model interface {
	// ForwardToken advances the model by one token and returns the logits for the next token.
	ForwardToken(id int) ([]float32, error)
	// Reset clears the model's internal state.
	Reset()
	// VocabSize is the length of the logit vector.
	VocabSize() int
}
