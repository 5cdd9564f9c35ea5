// Package tokenizer maps prompt text to token ids and token ids back to
// their surface text.
package tokenizer

// Tokenizer is the subset of tokenizer behaviour the local provider needs.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// DecodeToken returns the surface text of a single token, including any
	// leading whitespace it carries.
	DecodeToken(id int) (string, error)
	VocabSize() int
}
