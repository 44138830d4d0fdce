// Package decode extends token sequences greedily with an inference session.
package decode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorgonia.org/tensor"

	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/logits"
	"github.com/samcharles93/tinyclm/internal/model"
	"github.com/samcharles93/tinyclm/internal/tokenizer"
)

// DefaultOutput is the session output holding next-token probabilities.
const DefaultOutput = "probs"

var (
	ErrEmptySeed    = errors.New("decode: seed has no tokens")
	ErrInvalidSteps = errors.New("decode: max new tokens must not be negative")
)

// Event carries one newly generated token. Index counts generated tokens from
// zero.
type Event struct {
	Index int
	Token int
	Text  string
}

// EmitFunc receives each event before the next inference call. Returning an
// error stops decoding.
type EmitFunc func(Event) error

type Stats struct {
	Generated int
	Duration  time.Duration
	// Stopped reports that a stop token ended decoding early.
	Stopped bool
}

func (s Stats) TokensPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Generated) / s.Duration.Seconds()
}

// Decoder runs greedy decoding. StopTokens is empty by default, in which case
// every call generates exactly the requested number of tokens.
type Decoder struct {
	Session    model.Session
	Tokenizer  tokenizer.Tokenizer
	Output     string
	StopTokens []int
}

// Generate encodes seed and extends it by up to maxNew tokens.
func (d *Decoder) Generate(ctx context.Context, seed string, maxNew int, emit EmitFunc) ([]int, Stats, error) {
	ids, err := d.Tokenizer.Encode(seed)
	if err != nil {
		return nil, Stats{}, model.Wrap("encode seed", err)
	}
	return d.GenerateIDs(ctx, ids, maxNew, emit)
}

// GenerateIDs extends seed by up to maxNew tokens and returns the whole
// sequence. seed is not modified.
func (d *Decoder) GenerateIDs(ctx context.Context, seed []int, maxNew int, emit EmitFunc) ([]int, Stats, error) {
	var stats Stats
	if len(seed) == 0 {
		return nil, stats, ErrEmptySeed
	}
	if maxNew < 0 {
		return nil, stats, fmt.Errorf("%w: %d", ErrInvalidSteps, maxNew)
	}
	output := d.Output
	if output == "" {
		output = DefaultOutput
	}

	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		logger.FromContext(ctx).Debug("decode finished",
			"generated", stats.Generated, "stopped", stats.Stopped, "tokens_per_sec", stats.TokensPerSecond())
	}()

	seq := make([]int, len(seed), len(seed)+maxNew)
	copy(seq, seed)

	for i := 0; i < maxNew; i++ {
		if err := ctx.Err(); err != nil {
			return seq, stats, err
		}

		next, err := d.next(ctx, seq, output)
		if err != nil {
			return seq, stats, fmt.Errorf("decode: step %d: %w", i, err)
		}
		seq = append(seq, next)
		stats.Generated++

		text, err := d.Tokenizer.Decode([]int{next})
		if err != nil {
			return seq, stats, fmt.Errorf("decode: step %d: %w", i, model.Wrap("decode token", err))
		}
		if emit != nil {
			if err := emit(Event{Index: i, Token: next, Text: text}); err != nil {
				return seq, stats, err
			}
		}
		if slices.Contains(d.StopTokens, next) {
			stats.Stopped = true
			break
		}
	}
	return seq, stats, nil
}

// next runs the session on seq and picks the most probable token for the
// last position.
func (d *Decoder) next(ctx context.Context, seq []int, output string) (int, error) {
	in := make([]int64, len(seq))
	for i, id := range seq {
		in[i] = int64(id)
	}
	outs, err := d.Session.Run(ctx, tensor.New(tensor.WithShape(1, len(in)), tensor.WithBacking(in)))
	if err != nil {
		return 0, model.Wrap("run", err)
	}
	probs, ok := outs[output]
	if !ok || probs == nil {
		return 0, model.Wrap("run", fmt.Errorf("session returned no %q output", output))
	}
	data, ok := probs.Data().([]float32)
	if !ok {
		return 0, model.Wrap("run", fmt.Errorf("output %q has dtype %v, want float32", output, probs.Dtype()))
	}
	shape := probs.Shape()
	vocab := len(data)
	if len(shape) > 1 {
		vocab = shape[len(shape)-1]
	}
	if vocab == 0 || len(data) < vocab {
		return 0, model.Wrap("run", fmt.Errorf("output %q has shape %v", output, shape))
	}
	return logits.Argmax(data[len(data)-vocab:])
}
