package tokenizer

// byteLevel is the GPT-2 reversible byte-to-rune table: printable latin-1
// bytes map to themselves, every other byte to a rune from 256 upwards.
type byteLevel struct {
	enc [256]rune
	dec map[rune]byte
}

func newByteLevel() *byteLevel {
	bl := &byteLevel{dec: make(map[rune]byte, 256)}
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	next := rune(256)
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !printable(b) {
			r = next
			next++
		}
		bl.enc[b] = r
		bl.dec[r] = byte(b)
	}
	return bl
}

func (bl *byteLevel) encode(s string) string {
	out := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = bl.enc[s[i]]
	}
	return string(out)
}

// decode appends the bytes behind token to dst. Runes outside the table are
// kept as UTF-8.
func (bl *byteLevel) decode(dst []byte, token string) []byte {
	for _, r := range token {
		if b, ok := bl.dec[r]; ok {
			dst = append(dst, b)
			continue
		}
		dst = append(dst, string(r)...)
	}
	return dst
}
