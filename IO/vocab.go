package IO

import (
	"sort"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordlevel"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"k8s.io/klog/v2"
)

const (
	PadID = 0
	UnkID = 1

	UnkToken = "[UNK]"
)

// Vocabulary maps tokens to ids and back. It is immutable once built.
// Encoding and decoding run through a word-level tokenizer built from the
// ranked token list.
type Vocabulary struct {
	tokens []string
	index  map[string]int

	model *wordlevel.WordLevel
	tok   *tokenizer.Tokenizer
}

// BuildVocabulary keeps the most frequent standardized tokens of texts, most
// frequent first with ties in lexical order. The result holds at most
// maxTokens entries counting the padding and [UNK] entries at ids 0 and 1.
func BuildVocabulary(texts []string, maxTokens int) *Vocabulary {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range SplitTokens(text) {
			counts[tok]++
		}
	}
	delete(counts, UnkToken)

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if keep := maxTokens - 2; keep < len(words) {
		if keep < 0 {
			keep = 0
		}
		words = words[:keep]
	}
	return NewVocabulary(words)
}

// NewVocabulary builds a vocabulary from words in id order starting at 2.
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{
		tokens: make([]string, 0, len(words)+2),
		index:  make(map[string]int, len(words)+2),
	}
	v.tokens = append(v.tokens, "", UnkToken)
	v.index[UnkToken] = UnkID
	for _, w := range words {
		if _, dup := v.index[w]; dup || w == "" {
			continue
		}
		v.index[w] = len(v.tokens)
		v.tokens = append(v.tokens, w)
	}

	// wordlevel.New keeps the map, so hand it a copy that also carries the
	// padding entry for id 0.
	ids := make(map[string]int, len(v.tokens))
	for i, t := range v.tokens {
		ids[t] = i
	}
	v.model, _ = wordlevel.New(ids, UnkToken)
	v.tok = tokenizer.NewTokenizer(v.model)
	v.tok.WithNormalizer(normalizer.Lowercase())
	v.tok.WithPreTokenizer(pretokenizer.NewWhitespaceSplit())
	return v
}

func (v *Vocabulary) Size() int { return len(v.tokens) }

// Lookup returns the id of tok or UnkID.
func (v *Vocabulary) Lookup(tok string) int {
	if id, ok := v.index[tok]; ok {
		return id
	}
	return UnkID
}

// Token returns the string for id; ids outside the vocabulary map to [UNK].
func (v *Vocabulary) Token(id int) string {
	if tok, ok := v.model.IdToToken(id); ok {
		return tok
	}
	return UnkToken
}

// Tokenize standardizes text and encodes it with the word-level tokenizer.
// Words missing from the vocabulary encode as UnkID.
func (v *Vocabulary) Tokenize(text string) []int {
	std := Standardize(text)
	if strings.TrimSpace(std) == "" {
		return []int{}
	}
	enc, err := v.tok.EncodeSingle(std)
	if err != nil {
		klog.ErrorS(err, "Word-level encode failed, falling back to lookup")
		toks := strings.Fields(std)
		ids := make([]int, len(toks))
		for i, t := range toks {
			ids[i] = v.Lookup(t)
		}
		return ids
	}
	return enc.Ids
}

func (v *Vocabulary) Detokenize(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = v.Token(id)
	}
	return out
}

// Vectorize tokenizes text to exactly length ids, truncating or padding with PadID.
func (v *Vocabulary) Vectorize(text string, length int) []int {
	ids := v.Tokenize(text)
	if len(ids) >= length {
		return ids[:length]
	}
	out := make([]int, length)
	copy(out, ids)
	return out
}

// Join renders ids as space separated tokens.
func (v *Vocabulary) Join(ids []int) string {
	return strings.Join(v.Detokenize(ids), " ")
}
