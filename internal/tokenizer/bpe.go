package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// gpt2Split is the GPT-2 pre-tokenizer without its lookahead clause, which Go
// regexp does not support.
const gpt2Split = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

type pair struct{ a, b string }

// BPE is a byte-level BPE tokenizer loaded from a HuggingFace tokenizer.json.
// It memoises merges and is not safe for concurrent use.
type BPE struct {
	vocab    map[string]int
	tokens   []string
	ranks    map[pair]int
	specials []string
	special  map[int]bool
	unkID    int
	split    *regexp.Regexp
	bytes    *byteLevel
	cache    map[string][]string
}

type tokenizerJSON struct {
	Model struct {
		Type     string         `json:"type"`
		Vocab    map[string]int `json:"vocab"`
		Merges   []any          `json:"merges"`
		UnkToken *string        `json:"unk_token"`
	} `json:"model"`
	PreTokenizer *struct {
		Type          string `json:"type"`
		Pretokenizers []struct {
			Type    string `json:"type"`
			Pattern struct {
				Regex string `json:"Regex"`
			} `json:"pattern"`
		} `json:"pretokenizers"`
	} `json:"pre_tokenizer"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadBPE reads a tokenizer.json file.
func LoadBPE(path string) (*BPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	tok, err := ParseBPE(data)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %s: %w", path, err)
	}
	return tok, nil
}

// ParseBPE builds a tokenizer from tokenizer.json contents.
func ParseBPE(data []byte) (*BPE, error) {
	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(tj.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model %q", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	size := 0
	for _, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		size = max(size, id+1)
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			return nil, fmt.Errorf("negative token id %d", at.ID)
		}
		size = max(size, at.ID+1)
	}

	t := &BPE{
		vocab:   make(map[string]int, size),
		tokens:  make([]string, size),
		ranks:   make(map[pair]int, len(tj.Model.Merges)),
		special: make(map[int]bool),
		unkID:   -1,
		bytes:   newByteLevel(),
		cache:   make(map[string][]string),
	}
	for tok, id := range tj.Model.Vocab {
		t.vocab[tok] = id
		t.tokens[id] = tok
	}
	for _, at := range tj.AddedTokens {
		t.vocab[at.Content] = at.ID
		t.tokens[at.ID] = at.Content
		t.special[at.ID] = true
		t.specials = append(t.specials, at.Content)
	}
	// Longest first so overlapping specials match greedily.
	sort.SliceStable(t.specials, func(i, j int) bool { return len(t.specials[i]) > len(t.specials[j]) })

	for i, raw := range tj.Model.Merges {
		p, ok := parseMerge(raw)
		if !ok {
			return nil, fmt.Errorf("malformed merge %d: %v", i, raw)
		}
		if _, seen := t.ranks[p]; !seen {
			t.ranks[p] = len(t.ranks)
		}
	}

	if tj.Model.UnkToken != nil {
		if id, ok := t.vocab[*tj.Model.UnkToken]; ok {
			t.unkID = id
		}
	}

	t.split = regexp.MustCompile(gpt2Split)
	if tj.PreTokenizer != nil {
		for _, p := range tj.PreTokenizer.Pretokenizers {
			if p.Type != "Split" || p.Pattern.Regex == "" {
				continue
			}
			if re, err := regexp.Compile(p.Pattern.Regex); err == nil {
				t.split = re
			}
			break
		}
	}
	return t, nil
}

func parseMerge(raw any) (pair, bool) {
	switch v := raw.(type) {
	case string:
		a, b, ok := strings.Cut(strings.TrimSpace(v), " ")
		return pair{a, b}, ok && a != "" && b != ""
	case []any:
		if len(v) != 2 {
			return pair{}, false
		}
		a, aok := v[0].(string)
		b, bok := v[1].(string)
		return pair{a, b}, aok && bok
	default:
		return pair{}, false
	}
}

func (t *BPE) VocabSize() int { return len(t.tokens) }

// ID returns the id of an exact vocabulary entry, such as "<|endoftext|>".
func (t *BPE) ID(token string) (int, bool) {
	id, ok := t.vocab[token]
	return id, ok
}

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	for len(text) > 0 {
		i, sp := t.nextSpecial(text)
		if err := t.encodeOrdinary(text[:i], &ids); err != nil {
			return nil, err
		}
		if sp == "" {
			break
		}
		ids = append(ids, t.vocab[sp])
		text = text[i+len(sp):]
	}
	return ids, nil
}

// nextSpecial finds the earliest added token in text. It returns len(text)
// and "" when there is none.
func (t *BPE) nextSpecial(text string) (int, string) {
	at, found := len(text), ""
	for _, sp := range t.specials {
		if i := strings.Index(text, sp); i >= 0 && i < at {
			at, found = i, sp
		}
	}
	return at, found
}

func (t *BPE) encodeOrdinary(text string, ids *[]int) error {
	if text == "" {
		return nil
	}
	for _, piece := range t.split.FindAllString(text, -1) {
		for _, sym := range t.merge(t.bytes.encode(piece)) {
			id, ok := t.vocab[sym]
			if !ok {
				if t.unkID < 0 {
					return fmt.Errorf("%w: %q", ErrUnknownToken, sym)
				}
				id = t.unkID
			}
			*ids = append(*ids, id)
		}
	}
	return nil
}

// merge applies ranked merges to word until none applies.
func (t *BPE) merge(word string) []string {
	if cached, ok := t.cache[word]; ok {
		return cached
	}
	syms := make([]string, 0, len(word))
	for _, r := range word {
		syms = append(syms, string(r))
	}
	for len(syms) > 1 {
		best, bestRank := -1, 0
		for i := 0; i+1 < len(syms); i++ {
			rank, ok := t.ranks[pair{syms[i], syms[i+1]}]
			if ok && (best < 0 || rank < bestRank) {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}
		a, b := syms[best], syms[best+1]
		merged := syms[:0:0]
		for i := 0; i < len(syms); i++ {
			if i+1 < len(syms) && syms[i] == a && syms[i+1] == b {
				merged = append(merged, a+b)
				i++
				continue
			}
			merged = append(merged, syms[i])
		}
		syms = merged
	}
	t.cache[word] = syms
	return syms
}

func (t *BPE) Decode(ids []int) (string, error) {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.tokens) || t.tokens[id] == "" {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		tok := t.tokens[id]
		if t.special[id] {
			out = append(out, tok...)
			continue
		}
		out = t.bytes.decode(out, tok)
	}
	return string(out), nil
}
