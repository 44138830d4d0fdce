// Package bigram is a small next-token model: a token embedding followed by a
// projection back onto the vocabulary, trained with cross-entropy.
package bigram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samcharles93/tinyclm/internal/checkpoint"
	"github.com/samcharles93/tinyclm/internal/model"
)

const Arch = "bigram"

const (
	OutputProbs  = "probs"
	OutputLogits = "logits"
)

var ErrShape = errors.New("bigram: batch shape does not match model")

// Config fixes the graph shape. Rows is batch size times sequence length.
type Config struct {
	VocabSize int
	Hidden    int
	Rows      int
	RunID     string
}

func (c Config) validate() error {
	if c.VocabSize <= 0 || c.Hidden <= 0 || c.Rows <= 0 {
		return fmt.Errorf("bigram: vocab, hidden and rows must be positive, got %d/%d/%d", c.VocabSize, c.Hidden, c.Rows)
	}
	return nil
}

// Trainer owns the training graph. It is not safe for concurrent use.
type Trainer struct {
	cfg Config

	g          *gorgonia.ExprGraph
	x, y       *gorgonia.Node
	emb, proj  *gorgonia.Node
	loss       *gorgonia.Node
	vm         gorgonia.VM
	xbuf, ybuf []float32

	opt *optimizer
}

var _ model.Trainable = (*Trainer)(nil)

// New builds the training graph for cfg.
func New(cfg Config) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := gorgonia.NewGraph()
	t := &Trainer{
		cfg:  cfg,
		g:    g,
		xbuf: make([]float32, cfg.Rows*cfg.VocabSize),
		ybuf: make([]float32, cfg.Rows*cfg.VocabSize),
	}
	t.x = gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(cfg.Rows, cfg.VocabSize), gorgonia.WithName("x"))
	t.y = gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(cfg.Rows, cfg.VocabSize), gorgonia.WithName("y"))
	t.emb = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(cfg.VocabSize, cfg.Hidden),
		gorgonia.WithName("emb"),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	t.proj = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(cfg.Hidden, cfg.VocabSize),
		gorgonia.WithName("proj"),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)))

	loss, err := t.forward()
	if err != nil {
		return nil, fmt.Errorf("bigram: build graph: %w", err)
	}
	t.loss = loss
	if _, err := gorgonia.Grad(loss, t.emb, t.proj); err != nil {
		return nil, fmt.Errorf("bigram: gradients: %w", err)
	}
	t.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(t.emb, t.proj))
	t.opt = &optimizer{t: t}
	return t, nil
}

// probFloor keeps the log finite once the target probability underflows.
const probFloor = 1e-7

// forward builds mean cross-entropy of softmax(x·emb·proj) against one-hot y.
// The target probability is selected before the log so saturated non-target
// entries never reach it.
func (t *Trainer) forward() (*gorgonia.Node, error) {
	h, err := gorgonia.Mul(t.x, t.emb)
	if err != nil {
		return nil, err
	}
	logits, err := gorgonia.Mul(h, t.proj)
	if err != nil {
		return nil, err
	}
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, err
	}
	masked, err := gorgonia.HadamardProd(probs, t.y)
	if err != nil {
		return nil, err
	}
	target, err := gorgonia.Sum(masked, 1)
	if err != nil {
		return nil, err
	}
	floored, err := gorgonia.Add(target, gorgonia.NewConstant(float32(probFloor)))
	if err != nil {
		return nil, err
	}
	logp, err := gorgonia.Log(floored)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(logp)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

func (t *Trainer) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{t.emb, t.proj}
}

// Step runs the forward and backward passes. Weights are left untouched until
// the optimizer steps.
func (t *Trainer) Step(ctx context.Context, inputs, labels *tensor.Dense) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := oneHot(t.xbuf, inputs, t.cfg.Rows, t.cfg.VocabSize); err != nil {
		return 0, fmt.Errorf("inputs: %w", err)
	}
	if err := oneHot(t.ybuf, labels, t.cfg.Rows, t.cfg.VocabSize); err != nil {
		return 0, fmt.Errorf("labels: %w", err)
	}
	shape := tensor.WithShape(t.cfg.Rows, t.cfg.VocabSize)
	if err := gorgonia.Let(t.x, tensor.New(shape, tensor.WithBacking(t.xbuf))); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(t.y, tensor.New(shape, tensor.WithBacking(t.ybuf))); err != nil {
		return 0, err
	}

	t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return 0, err
	}
	return scalar(t.loss.Value())
}

func (t *Trainer) Optimizer() model.Optimizer { return t.opt }

// Export writes the current weights as a checkpoint exposing outputNames.
func (t *Trainer) Export(path string, outputNames []string) error {
	if err := validateOutputs(outputNames); err != nil {
		return err
	}
	emb, err := weights(t.emb)
	if err != nil {
		return err
	}
	proj, err := weights(t.proj)
	if err != nil {
		return err
	}
	meta := checkpoint.Meta{
		Arch:    Arch,
		RunID:   t.cfg.RunID,
		Created: time.Now().UTC(),
		Attrs: map[string]string{
			"vocab_size": strconv.Itoa(t.cfg.VocabSize),
			"hidden":     strconv.Itoa(t.cfg.Hidden),
		},
		Outputs: append([]string(nil), outputNames...),
	}
	return checkpoint.Write(path, meta, []checkpoint.Tensor{
		{Name: "emb", Shape: []int{t.cfg.VocabSize, t.cfg.Hidden}, Data: emb},
		{Name: "proj", Shape: []int{t.cfg.Hidden, t.cfg.VocabSize}, Data: proj},
	})
}

// Close releases the tape machine.
func (t *Trainer) Close() error {
	if t.vm == nil {
		return nil
	}
	return t.vm.Close()
}

func validateOutputs(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("bigram: no output names")
	}
	for _, n := range names {
		if n != OutputProbs && n != OutputLogits {
			return fmt.Errorf("bigram: unknown output %q (want %q or %q)", n, OutputProbs, OutputLogits)
		}
	}
	return nil
}

// oneHot fills dst ([rows, vocab]) from a tensor of rows token ids.
func oneHot(dst []float32, ids *tensor.Dense, rows, vocab int) error {
	if ids == nil {
		return fmt.Errorf("%w: nil tensor", ErrShape)
	}
	vals, err := intsOf(ids)
	if err != nil {
		return err
	}
	if len(vals) != rows {
		return fmt.Errorf("%w: got %d ids, want %d", ErrShape, len(vals), rows)
	}
	clear(dst)
	for i, id := range vals {
		if id < 0 || id >= vocab {
			return fmt.Errorf("%w: token %d outside vocabulary of %d", ErrShape, id, vocab)
		}
		dst[i*vocab+id] = 1
	}
	return nil
}

func intsOf(t *tensor.Dense) ([]int, error) {
	switch data := t.Data().(type) {
	case []int64:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
		return out, nil
	case []int:
		return data, nil
	case []int32:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %v", ErrShape, t.Dtype())
	}
}

func scalar(v gorgonia.Value) (float32, error) {
	if v == nil {
		return 0, fmt.Errorf("bigram: loss not computed")
	}
	switch d := v.Data().(type) {
	case float32:
		return d, nil
	case []float32:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("bigram: unexpected loss value %T", v.Data())
}

func weights(n *gorgonia.Node) ([]float32, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("bigram: %s has no value", n.Name())
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("bigram: %s has dtype %T", n.Name(), v.Data())
	}
	return append([]float32(nil), data...), nil
}
