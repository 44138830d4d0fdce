package decode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"testing"

	"gorgonia.org/tensor"

	"github.com/samcharles93/tinyclm/internal/logits"
	"github.com/samcharles93/tinyclm/internal/model"
	"github.com/samcharles93/tinyclm/internal/tokenizer"
)

// peakedSession always puts all probability on one token for every position.
type peakedSession struct {
	vocab int
	peak  int
	log   *[]string
	calls int
	err   error
}

func (s *peakedSession) Run(_ context.Context, input *tensor.Dense) (map[string]*tensor.Dense, error) {
	s.calls++
	if s.log != nil {
		*s.log = append(*s.log, fmt.Sprintf("run(%d)", input.Shape()[1]))
	}
	if s.err != nil {
		return nil, s.err
	}
	T := input.Shape()[1]
	data := make([]float32, T*s.vocab)
	for t := 0; t < T; t++ {
		data[t*s.vocab+s.peak] = 1
	}
	return map[string]*tensor.Dense{
		"probs": tensor.New(tensor.WithShape(T, s.vocab), tensor.WithBacking(data)),
	}, nil
}

// echoSession predicts the last input token plus one, modulo vocab.
type echoSession struct{ vocab int }

func (s echoSession) Run(_ context.Context, input *tensor.Dense) (map[string]*tensor.Dense, error) {
	ids := input.Data().([]int64)
	data := make([]float32, s.vocab)
	data[(int(ids[len(ids)-1])+1)%s.vocab] = 0.9
	return map[string]*tensor.Dense{"probs": tensor.New(tensor.WithShape(1, s.vocab), tensor.WithBacking(data))}, nil
}

type nanSession struct{}

func (nanSession) Run(context.Context, *tensor.Dense) (map[string]*tensor.Dense, error) {
	nan := float32(math.NaN())
	data := []float32{nan, nan, nan}
	return map[string]*tensor.Dense{"probs": tensor.New(tensor.WithShape(1, 3), tensor.WithBacking(data))}, nil
}

type failingTokenizer struct{ tokenizer.Byte }

func (failingTokenizer) Decode([]int) (string, error) { return "", errors.New("no such token") }

func TestGenerateIDsPeaked(t *testing.T) {
	var log []string
	d := &Decoder{Session: &peakedSession{vocab: 10, peak: 7, log: &log}, Tokenizer: tokenizer.Byte{}}

	seq, stats, err := d.GenerateIDs(context.Background(), []int{1, 2, 3}, 5, func(ev Event) error {
		log = append(log, fmt.Sprintf("emit(%d,%d)", ev.Index, ev.Token))
		if ev.Text != "\x07" {
			t.Errorf("event %d text = %q", ev.Index, ev.Text)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if want := []int{1, 2, 3, 7, 7, 7, 7, 7}; !slices.Equal(seq, want) {
		t.Fatalf("seq = %v, want %v", seq, want)
	}
	if stats.Generated != 5 || stats.Stopped {
		t.Fatalf("stats = %+v", stats)
	}

	want := []string{
		"run(3)", "emit(0,7)",
		"run(4)", "emit(1,7)",
		"run(5)", "emit(2,7)",
		"run(6)", "emit(3,7)",
		"run(7)", "emit(4,7)",
	}
	if !slices.Equal(log, want) {
		t.Fatalf("call order = %v, want %v", log, want)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	d := &Decoder{Session: echoSession{vocab: 256}, Tokenizer: tokenizer.Byte{}}
	a, _, err := d.Generate(context.Background(), "a", 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := d.Generate(context.Background(), "a", 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a, b) {
		t.Fatalf("runs differ: %v vs %v", a, b)
	}
	var sb strings.Builder
	for _, id := range a {
		sb.WriteByte(byte(id))
	}
	if sb.String() != "abcde" {
		t.Fatalf("text = %q", sb.String())
	}
}

func TestGenerateDoesNotModifySeed(t *testing.T) {
	seed := make([]int, 2, 10)
	seed[0], seed[1] = 1, 2
	d := &Decoder{Session: &peakedSession{vocab: 4, peak: 3}, Tokenizer: tokenizer.Byte{}}
	if _, _, err := d.GenerateIDs(context.Background(), seed, 3, nil); err != nil {
		t.Fatal(err)
	}
	if got := seed[:cap(seed)][2]; got != 0 {
		t.Fatalf("seed backing array was written: %d", got)
	}
}

func TestGenerateZeroSteps(t *testing.T) {
	sess := &peakedSession{vocab: 4, peak: 3}
	d := &Decoder{Session: sess, Tokenizer: tokenizer.Byte{}}
	seq, stats, err := d.GenerateIDs(context.Background(), []int{1}, 0, nil)
	if err != nil || !slices.Equal(seq, []int{1}) || stats.Generated != 0 || sess.calls != 0 {
		t.Fatalf("seq=%v stats=%+v err=%v calls=%d", seq, stats, err, sess.calls)
	}
}

func TestGenerateStopTokens(t *testing.T) {
	d := &Decoder{
		Session:    echoSession{vocab: 256},
		Tokenizer:  tokenizer.Byte{},
		StopTokens: []int{'c'},
	}
	var emitted []int
	seq, stats, err := d.Generate(context.Background(), "a", 10, func(ev Event) error {
		emitted = append(emitted, ev.Token)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(seq, []int{'a', 'b', 'c'}) || !stats.Stopped || stats.Generated != 2 {
		t.Fatalf("seq=%v stats=%+v", seq, stats)
	}
	if !slices.Equal(emitted, []int{'b', 'c'}) {
		t.Fatalf("emitted = %v", emitted)
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	modelErr := errors.New("graph mismatch")
	emitErr := errors.New("stdout closed")

	t.Run("empty seed", func(t *testing.T) {
		d := &Decoder{Session: &peakedSession{vocab: 4}, Tokenizer: tokenizer.Byte{}}
		if _, _, err := d.Generate(ctx, "", 3, nil); !errors.Is(err, ErrEmptySeed) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("negative steps", func(t *testing.T) {
		d := &Decoder{Session: &peakedSession{vocab: 4}, Tokenizer: tokenizer.Byte{}}
		if _, _, err := d.GenerateIDs(ctx, []int{1}, -1, nil); !errors.Is(err, ErrInvalidSteps) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("model failure", func(t *testing.T) {
		d := &Decoder{Session: &peakedSession{vocab: 4, err: modelErr}, Tokenizer: tokenizer.Byte{}}
		_, _, err := d.GenerateIDs(ctx, []int{1}, 3, nil)
		if !errors.Is(err, model.ErrExternal) || !errors.Is(err, modelErr) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("missing output", func(t *testing.T) {
		d := &Decoder{Session: &peakedSession{vocab: 4}, Tokenizer: tokenizer.Byte{}, Output: "logits"}
		if _, _, err := d.GenerateIDs(ctx, []int{1}, 1, nil); !errors.Is(err, model.ErrExternal) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("tokenizer failure", func(t *testing.T) {
		d := &Decoder{Session: &peakedSession{vocab: 4, peak: 1}, Tokenizer: failingTokenizer{}}
		seq, _, err := d.GenerateIDs(ctx, []int{1}, 3, nil)
		if !errors.Is(err, model.ErrExternal) || len(seq) != 2 {
			t.Fatalf("seq=%v err=%v", seq, err)
		}
	})
	t.Run("emit failure", func(t *testing.T) {
		sess := &peakedSession{vocab: 4, peak: 1}
		d := &Decoder{Session: sess, Tokenizer: tokenizer.Byte{}}
		_, stats, err := d.GenerateIDs(ctx, []int{1}, 5, func(Event) error { return emitErr })
		if !errors.Is(err, emitErr) || stats.Generated != 1 || sess.calls != 1 {
			t.Fatalf("err=%v stats=%+v calls=%d", err, stats, sess.calls)
		}
	})
	t.Run("no candidate", func(t *testing.T) {
		d := &Decoder{Session: nanSession{}, Tokenizer: tokenizer.Byte{}}
		if _, _, err := d.GenerateIDs(ctx, []int{1}, 1, nil); !errors.Is(err, logits.ErrNoCandidate) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		sess := &peakedSession{vocab: 4, peak: 2}
		d := &Decoder{Session: sess, Tokenizer: tokenizer.Byte{}}
		seq, _, err := d.GenerateIDs(cctx, []int{1}, 5, func(ev Event) error {
			if ev.Index == 1 {
				cancel()
			}
			return nil
		})
		if !errors.Is(err, context.Canceled) || len(seq) != 3 || sess.calls != 2 {
			t.Fatalf("seq=%v err=%v calls=%d", seq, err, sess.calls)
		}
	})
}
