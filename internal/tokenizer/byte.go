package tokenizer

import "fmt"

// Byte is a tokenizer whose vocabulary is the 256 byte values.
type Byte struct{}

func (Byte) VocabSize() int { return 256 }

func (Byte) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (Byte) Decode(ids []int) (string, error) {
	b := make([]byte, len(ids))
	for i, id := range ids {
		if id < 0 || id > 255 {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		b[i] = byte(id)
	}
	return string(b), nil
}
