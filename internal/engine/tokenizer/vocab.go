package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Special tokens every BERT vocabulary must define.
const (
	TokenPad = "[PAD]"
	TokenUnk = "[UNK]"
	TokenCLS = "[CLS]"
	TokenSEP = "[SEP]"
)

// vocab maps WordPiece tokens to ids. The id of a token is its 0-based line
// number in vocab.txt.
type vocab struct {
	ids    map[string]int64
	tokens []string

	pad, unk, cls, sep int64
}

func loadVocabFile(path string) (*vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	v, err := readVocab(f)
	if err != nil {
		return nil, fmt.Errorf("vocab %s: %w", path, err)
	}
	return v, nil
}

func readVocab(r io.Reader) (*vocab, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return newVocab(tokens)
}

func newVocab(tokens []string) (*vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	v := &vocab{
		ids:    make(map[string]int64, len(tokens)),
		tokens: tokens,
	}
	for i, tok := range tokens {
		// First occurrence wins, matching HuggingFace's loader.
		if _, seen := v.ids[tok]; !seen {
			v.ids[tok] = int64(i)
		}
	}

	for _, s := range []struct {
		name string
		dst  *int64
	}{
		{TokenPad, &v.pad},
		{TokenUnk, &v.unk},
		{TokenCLS, &v.cls},
		{TokenSEP, &v.sep},
	} {
		id, ok := v.ids[s.name]
		if !ok {
			return nil, fmt.Errorf("missing special token %s", s.name)
		}
		*s.dst = id
	}
	return v, nil
}

func (v *vocab) id(token string) int64 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.unk
}

func (v *vocab) has(token string) bool {
	_, ok := v.ids[token]
	return ok
}
