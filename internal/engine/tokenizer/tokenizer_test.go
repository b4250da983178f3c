package tokenizer

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// Shipped alongside the model; tests that need it are skipped otherwise.
const testVocabPath = "../../../models/vocab.txt"

var miniVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", // 0-3
	"hello", "world", "un", "##aff", "##able", // 4-8
	"!", ",", "cafe", "你", // 9-12
}

func miniTokenizer(t *testing.T, maxSeqLen int) *Tokenizer {
	t.Helper()
	tok, err := FromTokens(miniVocab, maxSeqLen)
	if err != nil {
		t.Fatalf("FromTokens: %v", err)
	}
	return tok
}

func TestEncode(t *testing.T) {
	tok := miniTokenizer(t, 0)

	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"empty", "", []int64{2, 3}},
		{"punctuation split and lowercase", "Hello, World!", []int64{2, 4, 10, 5, 9, 3}},
		{"wordpiece continuation", "unaffable", []int64{2, 6, 7, 8, 3}},
		{"accent stripped", "café", []int64{2, 11, 3}},
		{"unknown word", "xyz", []int64{2, 1, 3}},
		{"cjk isolated", "你好", []int64{2, 12, 1, 3}},
		{"tabs and newlines are whitespace", "hello\tworld\n", []int64{2, 4, 5, 3}},
		{"control chars dropped", "hel\x01lo", []int64{2, 4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Encode(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEncodeTruncates(t *testing.T) {
	tok := miniTokenizer(t, 4)
	got := tok.Encode("hello world hello world")
	want := []int64{2, 4, 5, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncodeLongWordIsUnknown(t *testing.T) {
	tok := miniTokenizer(t, 0)
	got := tok.Encode(strings.Repeat("a", maxWordRunes+1))
	if !reflect.DeepEqual(got, []int64{2, 1, 3}) {
		t.Fatalf("got %v", got)
	}
}

func TestEncodeBatchPadsToLongest(t *testing.T) {
	tok := miniTokenizer(t, 0)
	b := tok.EncodeBatch([]string{"hello", "hello world"})

	if b.Size != 2 || b.SeqLen != 4 {
		t.Fatalf("shape = [%d, %d], want [2, 4]", b.Size, b.SeqLen)
	}
	wantIDs := []int64{2, 4, 3, 0, 2, 4, 5, 3}
	wantMask := []int64{1, 1, 1, 0, 1, 1, 1, 1}
	if !reflect.DeepEqual(b.InputIDs, wantIDs) {
		t.Errorf("input_ids = %v, want %v", b.InputIDs, wantIDs)
	}
	if !reflect.DeepEqual(b.AttentionMask, wantMask) {
		t.Errorf("attention_mask = %v, want %v", b.AttentionMask, wantMask)
	}
	for i, v := range b.TokenTypeIDs {
		if v != 0 {
			t.Fatalf("token_type_ids[%d] = %d, want 0", i, v)
		}
	}
}

func TestEncodeBatchEmpty(t *testing.T) {
	tok := miniTokenizer(t, 0)
	b := tok.EncodeBatch(nil)
	if b.Size != 0 || len(b.InputIDs) != 0 {
		t.Fatalf("expected empty batch, got %+v", b)
	}
}

func TestFromTokensErrors(t *testing.T) {
	if _, err := FromTokens([]string{"[PAD]", "[UNK]", "[CLS]"}, 0); err == nil {
		t.Error("expected error for vocabulary without [SEP]")
	}
	if _, err := FromTokens(nil, 0); err == nil {
		t.Error("expected error for empty vocabulary")
	}
	if _, err := FromTokens(miniVocab, 1); err == nil {
		t.Error("expected error for max sequence length 1")
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(miniVocab, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err := New(path, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tok.VocabSize() != len(miniVocab) {
		t.Errorf("VocabSize = %d, want %d", tok.VocabSize(), len(miniVocab))
	}
	if tok.MaxSeqLen() != 16 {
		t.Errorf("MaxSeqLen = %d, want 16", tok.MaxSeqLen())
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.txt"), 0); err == nil {
		t.Error("expected error for missing vocab file")
	}
}

// Reference ids generated with HuggingFace BertTokenizer (bert-base-uncased).
func TestEncodeMatchesReference(t *testing.T) {
	if _, err := os.Stat(testVocabPath); os.IsNotExist(err) {
		t.Skip("vocab.txt not found; place the model bundle under models/")
	}
	tok, err := New(testVocabPath, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		text string
		ids  []int64
	}{
		{"hello world", []int64{101, 7592, 2088, 102}},
		{"", []int64{101, 102}},
		{"café résumé naïve", []int64{101, 7668, 13746, 15743, 102}},
		{"a]b[c", []int64{101, 1037, 1033, 1038, 1031, 1039, 102}},
	}
	for _, tt := range tests {
		if got := tok.Encode(tt.text); !reflect.DeepEqual(got, tt.ids) {
			t.Errorf("Encode(%q)\n  want: %v\n  got:  %v", tt.text, tt.ids, got)
		}
	}
}
