package bigram

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/samcharles93/tinyclm/internal/checkpoint"
	"github.com/samcharles93/tinyclm/internal/logits"
	"github.com/samcharles93/tinyclm/internal/model"
)

// Session evaluates an exported bigram checkpoint without a graph. It is
// read-only after Load and safe for concurrent use.
type Session struct {
	vocab, hidden int
	emb, proj     []float32
	outputs       []string
	meta          checkpoint.Meta
}

var _ model.Session = (*Session)(nil)

// Load reads a bigram checkpoint.
func Load(path string) (*Session, error) {
	f, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return fromFile(f)
}

func fromFile(f *checkpoint.File) (*Session, error) {
	if f.Meta.Arch != Arch {
		return nil, fmt.Errorf("bigram: checkpoint arch is %q", f.Meta.Arch)
	}
	if err := validateOutputs(f.Meta.Outputs); err != nil {
		return nil, err
	}
	emb, es, err := f.Tensor("emb")
	if err != nil {
		return nil, err
	}
	proj, ps, err := f.Tensor("proj")
	if err != nil {
		return nil, err
	}
	if len(es) != 2 || len(ps) != 2 || es[1] != ps[0] || es[0] != ps[1] {
		return nil, fmt.Errorf("%w: emb %v and proj %v", checkpoint.ErrCorrupt, es, ps)
	}
	return &Session{
		vocab:   es[0],
		hidden:  es[1],
		emb:     emb,
		proj:    proj,
		outputs: f.Meta.Outputs,
		meta:    f.Meta,
	}, nil
}

func (s *Session) VocabSize() int { return s.vocab }

func (s *Session) Meta() checkpoint.Meta { return s.meta }

// Run returns each exported output as a [T, vocab] float32 tensor, one row per
// input position.
func (s *Session) Run(ctx context.Context, input *tensor.Dense) (map[string]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, fmt.Errorf("%w: nil input", ErrShape)
	}
	ids, err := intsOf(input)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrShape)
	}

	T, V, H := len(ids), s.vocab, s.hidden
	raw := make([]float32, T*V)
	for t, id := range ids {
		if id < 0 || id >= V {
			return nil, fmt.Errorf("%w: token %d outside vocabulary of %d", ErrShape, id, V)
		}
		row := raw[t*V : (t+1)*V]
		e := s.emb[id*H : (id+1)*H]
		for h, ev := range e {
			if ev == 0 {
				continue
			}
			p := s.proj[h*V : (h+1)*V]
			for v := range row {
				row[v] += ev * p[v]
			}
		}
	}

	out := make(map[string]*tensor.Dense, len(s.outputs))
	for _, name := range s.outputs {
		data := make([]float32, len(raw))
		if name == OutputProbs {
			for t := 0; t < T; t++ {
				logits.Softmax(data[t*V:(t+1)*V], raw[t*V:(t+1)*V])
			}
		} else {
			copy(data, raw)
		}
		out[name] = tensor.New(tensor.WithShape(T, V), tensor.WithBacking(data))
	}
	return out, nil
}
