package tokenizer

import (
	"errors"
	"strings"
)

// ErrUnknownToken is returned when text or ids fall outside the vocabulary.
var ErrUnknownToken = errors.New("tokenizer: unknown token")

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocab is implemented by tokenizers that know their vocabulary size.
type Vocab interface {
	VocabSize() int
}

// Load returns a BPE tokenizer read from a HuggingFace tokenizer.json at path,
// or the byte-level tokenizer when path is empty.
func Load(path string) (Tokenizer, error) {
	if strings.TrimSpace(path) == "" {
		return Byte{}, nil
	}
	return LoadBPE(path)
}
