// Package tokenizer implements BERT uncased WordPiece tokenization for the
// sequence classifier.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxSeqLen matches the truncation length the bias model was trained with.
const DefaultMaxSeqLen = 128

// maxWordRunes is the longest word WordPiece will attempt to split.
const maxWordRunes = 100

// Batch is a tokenized batch in row-major [Size * SeqLen] layout, ready to be
// wrapped in ONNX tensors.
type Batch struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Size          int64
	SeqLen        int64
}

// Tokenizer performs BERT-style WordPiece tokenization with truncation.
// It holds no mutable state and is safe for concurrent use.
type Tokenizer struct {
	vocab     *vocab
	maxSeqLen int
}

// New loads vocab.txt from vocabPath. maxSeqLen <= 0 selects DefaultMaxSeqLen.
func New(vocabPath string, maxSeqLen int) (*Tokenizer, error) {
	v, err := loadVocabFile(vocabPath)
	if err != nil {
		return nil, err
	}
	return build(v, maxSeqLen)
}

// FromTokens builds a tokenizer from an in-memory vocabulary, where the
// slice index is the token id.
func FromTokens(tokens []string, maxSeqLen int) (*Tokenizer, error) {
	v, err := newVocab(tokens)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	return build(v, maxSeqLen)
}

func build(v *vocab, maxSeqLen int) (*Tokenizer, error) {
	if maxSeqLen <= 0 {
		maxSeqLen = DefaultMaxSeqLen
	}
	if maxSeqLen < 2 {
		return nil, fmt.Errorf("tokenizer: max sequence length %d leaves no room for [CLS] and [SEP]", maxSeqLen)
	}
	return &Tokenizer{vocab: v, maxSeqLen: maxSeqLen}, nil
}

// MaxSeqLen returns the truncation length including [CLS] and [SEP].
func (t *Tokenizer) MaxSeqLen() int { return t.maxSeqLen }

// VocabSize returns the number of vocabulary entries.
func (t *Tokenizer) VocabSize() int { return len(t.vocab.tokens) }

// Encode returns [CLS] tokens... [SEP] ids for text, truncated to MaxSeqLen.
// The result is unpadded.
func (t *Tokenizer) Encode(text string) []int64 {
	pieces := t.Tokenize(text)
	if limit := t.maxSeqLen - 2; len(pieces) > limit {
		pieces = pieces[:limit]
	}
	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, t.vocab.cls)
	for _, p := range pieces {
		ids = append(ids, t.vocab.id(p))
	}
	return append(ids, t.vocab.sep)
}

// EncodeBatch encodes every text and pads to the longest sequence in the
// batch. Padding positions use [PAD] with a zero attention mask.
func (t *Tokenizer) EncodeBatch(texts []string) Batch {
	if len(texts) == 0 {
		return Batch{}
	}

	seqs := make([][]int64, len(texts))
	longest := 0
	for i, text := range texts {
		seqs[i] = t.Encode(text)
		if len(seqs[i]) > longest {
			longest = len(seqs[i])
		}
	}

	size, seqLen := int64(len(texts)), int64(longest)
	b := Batch{
		InputIDs:      make([]int64, size*seqLen),
		AttentionMask: make([]int64, size*seqLen),
		TokenTypeIDs:  make([]int64, size*seqLen),
		Size:          size,
		SeqLen:        seqLen,
	}
	for i, seq := range seqs {
		row := int64(i) * seqLen
		for j := int64(0); j < seqLen; j++ {
			if j < int64(len(seq)) {
				b.InputIDs[row+j] = seq[j]
				b.AttentionMask[row+j] = 1
			} else {
				b.InputIDs[row+j] = t.vocab.pad
			}
		}
	}
	return b
}

// Tokenize splits text into WordPiece tokens without special tokens or
// truncation.
func (t *Tokenizer) Tokenize(text string) []string {
	var out []string
	for _, word := range basicTokenize(text) {
		out = append(out, t.wordpiece(word)...)
	}
	return out
}

// wordpiece greedily matches the longest vocabulary prefix, continuing with
// "##" suffix pieces. A word that cannot be fully covered becomes [UNK].
func (t *Tokenizer) wordpiece(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{TokenUnk}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		match := ""
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if t.vocab.has(sub) {
				match = sub
				break
			}
		}
		if match == "" {
			return []string{TokenUnk}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// basicTokenize mirrors BERT's uncased BasicTokenizer: clean control chars,
// isolate CJK ideographs, lowercase, strip accents, then split on whitespace
// and punctuation.
func basicTokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
		case isWhitespace(r):
			b.WriteByte(' ')
		case isCJK(r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	cleaned := stripAccents(strings.ToLower(b.String()))

	var words []string
	for _, field := range strings.Fields(cleaned) {
		words = append(words, splitPunct(field)...)
	}
	return words
}

func stripAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitPunct(word string) []string {
	var parts []string
	start := -1
	for i, r := range word {
		if isPunct(r) {
			if start >= 0 {
				parts = append(parts, word[start:i])
				start = -1
			}
			parts = append(parts, string(r))
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		parts = append(parts, word[start:])
	}
	return parts
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || unicode.In(r, unicode.Cf)
}

// isPunct treats all non-alphanumeric ASCII as punctuation, as BERT does,
// in addition to Unicode punctuation.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
