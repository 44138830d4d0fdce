package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const tinyTokenizerJSON = `{
  "model": {
    "type": "BPE",
    "vocab": {"h": 0, "e": 1, "l": 2, "o": 3, "Ġ": 4, "he": 5, "ll": 6, "llo": 7, "hello": 8},
    "merges": ["h e", "l l", ["ll", "o"], "he llo"]
  },
  "added_tokens": [{"id": 9, "content": "<|endoftext|>", "special": true}]
}`

func TestByteRoundTrip(t *testing.T) {
	var tok Byte
	ids, err := tok.Encode("hé\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{'h', 0xC3, 0xA9, '\n'}
	if !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "hé\n" {
		t.Fatalf("text = %q", text)
	}
	if tok.VocabSize() != 256 {
		t.Fatalf("vocab size = %d", tok.VocabSize())
	}
}

func TestByteDecodeRejectsWideID(t *testing.T) {
	if _, err := (Byte{}).Decode([]int{65, 256}); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
}

func TestBPEEncodeDecode(t *testing.T) {
	tok, err := ParseBPE([]byte(tinyTokenizerJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tok.VocabSize() != 10 {
		t.Fatalf("vocab size = %d, want 10", tok.VocabSize())
	}

	ids, err := tok.Encode("hello hello<|endoftext|>")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{8, 4, 8, 9}
	if !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "hello hello<|endoftext|>" {
		t.Fatalf("text = %q", text)
	}

	if id, ok := tok.ID("<|endoftext|>"); !ok || id != 9 {
		t.Fatalf("ID(<|endoftext|>) = %d, %v", id, ok)
	}
}

func TestBPEPartialMerge(t *testing.T) {
	tok, err := ParseBPE([]byte(tinyTokenizerJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ids, err := tok.Encode("hell")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := []int{5, 6}; !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}

func TestBPEUnknownSymbol(t *testing.T) {
	tok, err := ParseBPE([]byte(tinyTokenizerJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := tok.Encode("z"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("encode err = %v, want ErrUnknownToken", err)
	}
	if _, err := tok.Decode([]int{42}); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("decode err = %v, want ErrUnknownToken", err)
	}
}

func TestParseBPERejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"wrong model":   `{"model":{"type":"WordPiece","vocab":{"a":0}}}`,
		"empty vocab":   `{"model":{"type":"BPE","vocab":{}}}`,
		"bad merge":     `{"model":{"type":"BPE","vocab":{"a":0},"merges":["a"]}}`,
		"negative id":   `{"model":{"type":"BPE","vocab":{"a":-1}}}`,
		"merge not str": `{"model":{"type":"BPE","vocab":{"a":0},"merges":[[1,2]]}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBPE([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tok, err := Load("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, ok := tok.(Byte); !ok {
		t.Fatalf("default tokenizer = %T, want Byte", tok)
	}

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(tinyTokenizerJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err = Load(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	v, ok := tok.(Vocab)
	if !ok || v.VocabSize() != 10 {
		t.Fatalf("loaded tokenizer = %T", tok)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestByteLevelTableIsBijective(t *testing.T) {
	bl := newByteLevel()
	if len(bl.dec) != 256 {
		t.Fatalf("decoder has %d entries", len(bl.dec))
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	got := bl.decode(nil, bl.encode(string(all)))
	if !slices.Equal(got, all) {
		t.Fatal("byte-level round trip mismatch")
	}
	if bl.enc[' '] != 'Ġ' {
		t.Fatalf("space maps to %q, want Ġ", bl.enc[' '])
	}
}
