package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// metaspace is the word-boundary marker used by SentencePiece-derived BPE
// vocabularies.
const metaspace = "▁"

// defaultSplit is the GPT-2 pre-tokenizer pattern.
const defaultSplit = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

// llama3Split replaces Llama-3 style patterns, whose lookahead RE2 cannot
// compile.
const llama3Split = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`

// HFTokenizer is a BPE tokenizer loaded from a Hugging Face tokenizer.json.
// Both byte-level (GPT-2, Llama 3, Qwen) and metaspace with byte fallback
// (Llama 2, Mistral) vocabularies are supported.
type HFTokenizer struct {
	vocab    map[string]int
	tokens   []string
	ranks    map[mergeKey]int
	specials []string
	split    *regexp.Regexp

	byteLevel    bool
	byteFallback bool
	prefixSpace  bool
	ignoreMerges bool
	enc          [256]string
	dec          map[rune]byte

	addBOS bool
	addEOS bool
	bosID  int
	eosID  int
	unkID  int

	mu    sync.Mutex
	cache map[string][]string
}

type splitPattern struct {
	Regex  string `json:"Regex"`
	String string `json:"String"`
}

type preTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace *bool          `json:"add_prefix_space"`
	PrependScheme  string         `json:"prepend_scheme"`
	Pattern        splitPattern   `json:"pattern"`
	Pretokenizers  []preTokenizer `json:"pretokenizers"`
}

type templatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
}

type templateProcessing struct {
	Type          string          `json:"type"`
	Single        []templatePiece `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
}

// specialID resolves a template piece to its token id.
func (tp templateProcessing) specialID(p templatePiece) (int, bool) {
	if p.SpecialToken == nil {
		return 0, false
	}
	ids := tp.SpecialTokens[p.SpecialToken.ID].IDs
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

type tokenizerFile struct {
	Model struct {
		Type         string          `json:"type"`
		Vocab        map[string]int  `json:"vocab"`
		Merges       json.RawMessage `json:"merges"`
		IgnoreMerges bool            `json:"ignore_merges"`
		ByteFallback bool            `json:"byte_fallback"`
		UnkToken     string          `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  *preTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		templateProcessing
		Processors []templateProcessing `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// tokenizer_config.json stores special tokens either as plain strings or as
// {"content": "..."} objects.
type specialToken string

func (s *specialToken) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = specialToken(str)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = specialToken(obj.Content)
	return nil
}

type tokenizerConfig struct {
	AddBOS *bool        `json:"add_bos_token"`
	AddEOS *bool        `json:"add_eos_token"`
	BOS    specialToken `json:"bos_token"`
	EOS    specialToken `json:"eos_token"`
}

// LoadHF reads tokenizer.json and an optional tokenizer_config.json. A
// missing config file is not an error.
func LoadHF(tokenizerPath, configPath string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokenizerPath)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			cfg = raw
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	return ParseHF(data, cfg)
}

// ParseHF builds a tokenizer from the raw contents of tokenizer.json and
// tokenizer_config.json. cfg may be nil.
func ParseHF(data, cfg []byte) (*HFTokenizer, error) {
	var tf tokenizerFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(tf.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tf.Model.Type)
	}
	if len(tf.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer vocabulary is empty")
	}

	size := 0
	for _, id := range tf.Model.Vocab {
		size = max(size, id+1)
	}
	for _, at := range tf.AddedTokens {
		size = max(size, at.ID+1)
	}
	t := &HFTokenizer{
		vocab:        make(map[string]int, size),
		tokens:       make([]string, size),
		byteFallback: tf.Model.ByteFallback,
		ignoreMerges: tf.Model.IgnoreMerges,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		cache:        make(map[string][]string),
	}
	for tok, id := range tf.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d for %q", id, tok)
		}
		t.vocab[tok] = id
		t.tokens[id] = tok
	}
	for _, at := range tf.AddedTokens {
		if at.ID < 0 {
			return nil, fmt.Errorf("negative added token id %d", at.ID)
		}
		t.vocab[at.Content] = at.ID
		t.tokens[at.ID] = at.Content
	}
	t.specials = specialTokens(t.tokens)

	ranks, err := parseMerges(tf.Model.Merges)
	if err != nil {
		return nil, err
	}
	t.ranks = ranks
	t.enc, t.dec = byteAlphabet()

	if err := t.configurePreTokenizer(tf.PreTokenizer); err != nil {
		return nil, err
	}

	if id, ok := t.vocab[tf.Model.UnkToken]; ok && tf.Model.UnkToken != "" {
		t.unkID = id
	}

	var tc tokenizerConfig
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &tc); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	if id, ok := t.vocab[string(tc.BOS)]; ok && tc.BOS != "" {
		t.bosID = id
	}
	if id, ok := t.vocab[string(tc.EOS)]; ok && tc.EOS != "" {
		t.eosID = id
	}
	if tc.AddBOS != nil {
		t.addBOS = *tc.AddBOS
	}
	if tc.AddEOS != nil {
		t.addEOS = *tc.AddEOS
	}

	// A TemplateProcessing post-processor wraps the single-sequence template
	// in the special tokens the reference tokenizer adds.
	templates := []templateProcessing{tf.PostProcessor.templateProcessing}
	templates = append(templates, tf.PostProcessor.Processors...)
	for _, tp := range templates {
		if tp.Type != "TemplateProcessing" || len(tp.Single) < 2 {
			continue
		}
		if id, ok := tp.specialID(tp.Single[0]); ok {
			t.bosID, t.addBOS = id, true
		}
		if id, ok := tp.specialID(tp.Single[len(tp.Single)-1]); ok {
			t.eosID, t.addEOS = id, true
		}
	}
	return t, nil
}

// merges is either ["a b", ...] or [["a", "b"], ...].
func parseMerges(raw json.RawMessage) (map[mergeKey]int, error) {
	ranks := make(map[mergeKey]int)
	if len(raw) == 0 || string(raw) == "null" {
		return ranks, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse merges: %w", err)
	}
	for i, item := range items {
		var left, right string
		var line string
		if err := json.Unmarshal(item, &line); err == nil {
			l, r, ok := strings.Cut(strings.TrimSpace(line), " ")
			if !ok || strings.HasPrefix(line, "#") {
				continue
			}
			left, right = l, r
		} else {
			var pair []string
			if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
				return nil, fmt.Errorf("merge %d: expected string or pair", i)
			}
			left, right = pair[0], pair[1]
		}
		k := mergeKey{left, right}
		if _, ok := ranks[k]; !ok {
			ranks[k] = len(ranks)
		}
	}
	return ranks, nil
}

func (t *HFTokenizer) configurePreTokenizer(pre *preTokenizer) error {
	pattern := ""
	var walk func(p *preTokenizer)
	walk = func(p *preTokenizer) {
		if p == nil {
			return
		}
		switch p.Type {
		case "ByteLevel":
			t.byteLevel = true
		case "Metaspace":
			t.prefixSpace = p.PrependScheme != "never"
			if p.AddPrefixSpace != nil {
				t.prefixSpace = *p.AddPrefixSpace
			}
		case "Split":
			if pattern == "" && p.Pattern.Regex != "" {
				pattern = p.Pattern.Regex
			}
		case "Sequence":
			for i := range p.Pretokenizers {
				walk(&p.Pretokenizers[i])
			}
		}
	}
	walk(pre)

	// Without a pre-tokenizer, a vocabulary of metaspace pieces is
	// SentencePiece-style; everything else is treated as byte-level.
	if pre == nil {
		if _, ok := t.vocab[metaspace]; ok {
			t.prefixSpace = true
		} else {
			t.byteLevel = true
		}
	}

	if !t.byteLevel {
		return nil
	}
	if pattern == "" {
		pattern = defaultSplit
	}
	if strings.Contains(pattern, "(?!") || strings.Contains(pattern, "(?i:") {
		pattern = llama3Split
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile pre-tokenizer pattern: %w", err)
	}
	t.split = re
	return nil
}

// Encode converts text into token ids, adding BOS/EOS as configured.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for i, seg := range splitSpecial(text, t.specials) {
		if seg.special {
			ids = append(ids, t.vocab[seg.text])
			continue
		}
		var err error
		if t.byteLevel {
			ids, err = t.encodeByteLevel(ids, seg.text)
		} else {
			ids, err = t.encodeMetaspace(ids, seg.text, i == 0)
		}
		if err != nil {
			return nil, err
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) encodeByteLevel(ids []int, text string) ([]int, error) {
	for _, piece := range t.split.FindAllString(text, -1) {
		var b strings.Builder
		for i := 0; i < len(piece); i++ {
			b.WriteString(t.enc[piece[i]])
		}
		for _, sym := range t.bpe(b.String()) {
			id, ok := t.vocab[sym]
			if !ok {
				if t.unkID < 0 {
					return nil, fmt.Errorf("unknown token: %q", sym)
				}
				id = t.unkID
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *HFTokenizer) encodeMetaspace(ids []int, text string, first bool) ([]int, error) {
	if text == "" {
		return ids, nil
	}
	s := strings.ReplaceAll(text, " ", metaspace)
	if first && t.prefixSpace && !strings.HasPrefix(s, metaspace) {
		s = metaspace + s
	}
	for _, sym := range t.bpe(s) {
		if id, ok := t.vocab[sym]; ok {
			ids = append(ids, id)
			continue
		}
		if t.byteFallback {
			fallback := true
			var bytesIDs []int
			for i := 0; i < len(sym); i++ {
				id, ok := t.vocab[fmt.Sprintf("<0x%02X>", sym[i])]
				if !ok {
					fallback = false
					break
				}
				bytesIDs = append(bytesIDs, id)
			}
			if fallback {
				ids = append(ids, bytesIDs...)
				continue
			}
		}
		if t.unkID < 0 {
			return nil, fmt.Errorf("unknown token: %q", sym)
		}
		ids = append(ids, t.unkID)
	}
	return ids, nil
}

func (t *HFTokenizer) bpe(word string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if out, ok := t.cache[word]; ok {
		return out
	}
	if _, ok := t.vocab[word]; ok && t.ignoreMerges {
		out := []string{word}
		t.cache[word] = out
		return out
	}
	syms := symbols(word)
	for len(syms) > 1 {
		pos := bestMerge(syms, t.ranks)
		if pos < 0 {
			break
		}
		syms = mergeAll(syms, pos)
	}
	t.cache[word] = syms
	return syms
}

// Decode concatenates the surface text of ids. Invalid UTF-8 produced by a
// split multi-byte sequence is replaced with U+FFFD.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.tokens) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		b = t.appendToken(b, t.tokens[id])
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// DecodeToken is Decode for a single id.
func (t *HFTokenizer) DecodeToken(id int) (string, error) {
	return t.Decode([]int{id})
}

func (t *HFTokenizer) appendToken(b []byte, tok string) []byte {
	if isSpecialToken(tok) {
		return append(b, tok...)
	}
	if t.byteLevel {
		for _, r := range tok {
			if by, ok := t.dec[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
		return b
	}
	if t.byteFallback && len(tok) == 6 && strings.HasPrefix(tok, "<0x") && strings.HasSuffix(tok, ">") {
		if v, err := strconv.ParseUint(tok[3:5], 16, 8); err == nil {
			return append(b, byte(v))
		}
	}
	return append(b, strings.ReplaceAll(tok, metaspace, " ")...)
}

// VocabSize is the number of token ids, including added tokens.
func (t *HFTokenizer) VocabSize() int { return len(t.tokens) }

// TokenString returns the raw vocabulary entry for id.
func (t *HFTokenizer) TokenString(id int) string { return t.tokenAt(id) }

func (t *HFTokenizer) BOSID() int { return t.bosID }
func (t *HFTokenizer) EOSID() int { return t.eosID }

func (t *HFTokenizer) tokenAt(id int) string {
	if id < 0 || id >= len(t.tokens) {
		return ""
	}
	return t.tokens[id]
}
