package tokenizer

import (
	"cmp"
	"slices"
	"strings"
)

type mergeKey struct {
	left  string
	right string
}

type segment struct {
	text    string
	special bool
}

// symbols splits s into one string per rune.
func symbols(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// bestMerge returns the position of the adjacent pair with the lowest merge
// rank, or -1 when no pair in word is mergeable.
func bestMerge(word []string, ranks map[mergeKey]int) int {
	best, bestRank := -1, 0
	for i := 0; i+1 < len(word); i++ {
		r, ok := ranks[mergeKey{word[i], word[i+1]}]
		if !ok {
			continue
		}
		if best < 0 || r < bestRank {
			best, bestRank = i, r
		}
	}
	return best
}

// mergeAll joins every occurrence of the pair at pos, scanning left to right.
func mergeAll(word []string, pos int) []string {
	left, right := word[pos], word[pos+1]
	out := make([]string, 0, len(word)-1)
	for i := 0; i < len(word); i++ {
		if i+1 < len(word) && word[i] == left && word[i+1] == right {
			out = append(out, left+right)
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// isSpecialToken matches control tokens of the form <|...|>.
func isSpecialToken(s string) bool {
	return len(s) >= 4 && strings.HasPrefix(s, "<|") && strings.HasSuffix(s, "|>")
}

// specialTokens returns the control tokens in vocab, longest first so that
// splitting prefers the longest match.
func specialTokens(vocab []string) []string {
	var out []string
	for _, t := range vocab {
		if isSpecialToken(t) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	return out
}

// splitSpecial cuts text into runs of plain text and control tokens.
func splitSpecial(text string, specials []string) []segment {
	if len(specials) == 0 || !strings.Contains(text, "<|") {
		return []segment{{text: text}}
	}
	var (
		out   []segment
		start int
	)
	for i := 0; i < len(text); {
		match := ""
		if text[i] == '<' {
			for _, sp := range specials {
				if strings.HasPrefix(text[i:], sp) {
					match = sp
					break
				}
			}
		}
		if match == "" {
			i++
			continue
		}
		if start < i {
			out = append(out, segment{text: text[start:i]})
		}
		out = append(out, segment{text: match, special: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		out = append(out, segment{text: text[start:]})
	}
	return out
}

// byteAlphabet builds the reversible byte to printable-rune table used by
// byte-level BPE vocabularies. Printable Latin-1 bytes map to themselves;
// the rest are shifted above U+0100.
func byteAlphabet() (enc [256]string, dec map[rune]byte) {
	printable := func(b int) bool {
		return ('!' <= b && b <= '~') || ('¡' <= b && b <= '¬') || ('®' <= b && b <= 'ÿ')
	}
	dec = make(map[rune]byte, 256)
	shift := 0
	for b := range 256 {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + shift)
			shift++
		}
		enc[b] = string(r)
		dec[r] = byte(b)
	}
	return enc, dec
}
